package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/logger"
)

// ChatRepository stores each conversation as privateChats/{pairId} with its
// messages in a subcollection
type ChatRepository struct {
	client *firestore.Client
}

// NewChatRepository creates a new ChatRepository
func NewChatRepository(client *firestore.Client) *ChatRepository {
	return &ChatRepository{client: client}
}

func (r *ChatRepository) conversation(pairID string) *firestore.DocumentRef {
	return r.client.Collection(chatsCollection).Doc(pairID)
}

func (r *ChatRepository) messages(pairID string) *firestore.CollectionRef {
	return r.conversation(pairID).Collection(messagesCollection)
}

// Append stores msg under msg.ID
func (r *ChatRepository) Append(ctx context.Context, pairID string, msg *domain.ChatMessage) error {
	if _, err := r.messages(pairID).Doc(msg.ID).Set(ctx, msg); err != nil {
		return wrap("failed to append message", err)
	}
	return nil
}

// UpdateMeta overwrites the conversation document
func (r *ChatRepository) UpdateMeta(ctx context.Context, meta *domain.ConversationMeta) error {
	if _, err := r.conversation(meta.PairID).Set(ctx, meta); err != nil {
		return wrap("failed to update conversation meta", err)
	}
	return nil
}

// GetMeta returns the conversation metadata or nil
func (r *ChatRepository) GetMeta(ctx context.Context, pairID string) (*domain.ConversationMeta, error) {
	snap, err := r.conversation(pairID).Get(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("failed to get conversation meta", err)
	}
	meta := &domain.ConversationMeta{}
	if err := snap.DataTo(meta); err != nil {
		return nil, fmt.Errorf("failed to decode conversation meta: %w", err)
	}
	meta.PairID = pairID
	return meta, nil
}

// List returns the newest limit messages, oldest first
func (r *ChatRepository) List(ctx context.Context, pairID string, limit int) ([]*domain.ChatMessage, error) {
	docs, err := r.messages(pairID).
		OrderBy("timestamp", firestore.Desc).
		Limit(limit).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, wrap("failed to list messages", err)
	}

	msgs := make([]*domain.ChatMessage, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		msg, err := decodeMessage(docs[i])
		if err != nil {
			logger.Warn("Skipping undecodable message", zap.String("pair_id", pairID), zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Watch emits messages newer than since in timestamp order, then new ones as
// they arrive
func (r *ChatRepository) Watch(ctx context.Context, pairID string, since time.Time) (<-chan *domain.ChatMessage, error) {
	it := r.messages(pairID).
		Where("timestamp", ">", since).
		OrderBy("timestamp", firestore.Asc).
		Snapshots(ctx)
	out := make(chan *domain.ChatMessage, 16)

	go func() {
		defer close(out)
		defer it.Stop()

		for {
			qs, err := it.Next()
			if err != nil {
				if !stopped(ctx, err) && !errors.Is(err, iterator.Done) {
					logger.Warn("Chat watch failed", zap.String("pair_id", pairID), zap.Error(wrap("watch", err)))
				}
				return
			}
			for _, dc := range qs.Changes {
				if dc.Kind != firestore.DocumentAdded {
					continue
				}
				msg, err := decodeMessage(dc.Doc)
				if err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeMessage(snap *firestore.DocumentSnapshot) (*domain.ChatMessage, error) {
	msg := &domain.ChatMessage{}
	if err := snap.DataTo(msg); err != nil {
		return nil, err
	}
	msg.ID = snap.Ref.ID
	return msg, nil
}
