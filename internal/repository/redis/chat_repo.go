package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"skillswap-backend/internal/database"
	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/logger"
)

// chatReadBlock is how long one XREAD waits before the watch loop rechecks its
// context
const chatReadBlock = 2 * time.Second

func chatStreamKey(pairID string) string {
	return "privateChats:" + pairID + ":messages"
}

func chatMetaKey(pairID string) string {
	return "privateChats:" + pairID
}

// ChatRepository keeps each conversation in a Redis stream and its metadata in
// a hash
type ChatRepository struct {
	client *database.RedisClient
}

// NewChatRepository creates a new ChatRepository
func NewChatRepository(client *database.RedisClient) *ChatRepository {
	return &ChatRepository{client: client}
}

// Append adds msg to the conversation stream
func (r *ChatRepository) Append(ctx context.Context, pairID string, msg *domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	err = r.client.SafeXAdd(ctx, &redis.XAddArgs{
		Stream: chatStreamKey(pairID),
		Values: map[string]interface{}{"data": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// UpdateMeta overwrites the conversation hash
func (r *ChatRepository) UpdateMeta(ctx context.Context, meta *domain.ConversationMeta) error {
	err := r.client.SafeHSet(ctx, chatMetaKey(meta.PairID),
		"participants", strings.Join(meta.Participants, ","),
		"lastMessage", meta.LastMessage,
		"lastUpdated", meta.LastUpdated.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update conversation meta: %w", err)
	}
	return nil
}

// GetMeta returns the conversation metadata or nil
func (r *ChatRepository) GetMeta(ctx context.Context, pairID string) (*domain.ConversationMeta, error) {
	fields, err := r.client.SafeHGetAll(ctx, chatMetaKey(pairID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation meta: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	meta := &domain.ConversationMeta{PairID: pairID, LastMessage: fields["lastMessage"]}
	if p := fields["participants"]; p != "" {
		meta.Participants = strings.Split(p, ",")
	}
	if ts := fields["lastUpdated"]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			meta.LastUpdated = t
		}
	}
	return meta, nil
}

// List returns the newest limit messages, oldest first
func (r *ChatRepository) List(ctx context.Context, pairID string, limit int) ([]*domain.ChatMessage, error) {
	entries, err := r.client.SafeXRevRangeN(ctx, chatStreamKey(pairID), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	msgs := make([]*domain.ChatMessage, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		msg, err := decodeStreamMessage(entries[i])
		if err != nil {
			logger.Warn("Skipping malformed chat entry",
				zap.String("pair_id", pairID),
				zap.String("entry_id", entries[i].ID),
				zap.Error(err))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Watch replays messages newer than since and then follows the stream
func (r *ChatRepository) Watch(ctx context.Context, pairID string, since time.Time) (<-chan *domain.ChatMessage, error) {
	if r.client.IsDegraded() {
		return nil, database.ErrRedisDegraded
	}

	out := make(chan *domain.ChatMessage, 16)
	go func() {
		defer close(out)
		stream := chatStreamKey(pairID)
		lastID := "0"

		for ctx.Err() == nil {
			res, err := r.client.SafeXRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   100,
				Block:   chatReadBlock,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("Chat stream read failed", zap.String("pair_id", pairID), zap.Error(err))
					select {
					case <-time.After(chatReadBlock):
					case <-ctx.Done():
					}
				}
				continue
			}

			for _, s := range res {
				for _, entry := range s.Messages {
					lastID = entry.ID
					msg, err := decodeStreamMessage(entry)
					if err != nil || !msg.Timestamp.After(since) {
						continue
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func decodeStreamMessage(entry redis.XMessage) (*domain.ChatMessage, error) {
	raw, ok := entry.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("entry %s has no data field", entry.ID)
	}
	msg := &domain.ChatMessage{}
	if err := json.Unmarshal([]byte(raw), msg); err != nil {
		return nil, err
	}
	return msg, nil
}
