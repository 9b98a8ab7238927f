// Package chat implements the conversation stream shared by two participants,
// including the call summaries written when a call ends.
package chat

import (
	"context"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/constants"
	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
	"skillswap-backend/pkg/sanitize"
)

// MessageStore keeps each conversation's ordered message list and its metadata
type MessageStore interface {
	// Append stores msg under msg.ID
	Append(ctx context.Context, pairID string, msg *domain.ChatMessage) error
	UpdateMeta(ctx context.Context, meta *domain.ConversationMeta) error
	// GetMeta returns nil, nil for a conversation without messages
	GetMeta(ctx context.Context, pairID string) (*domain.ConversationMeta, error)
	// List returns the newest limit messages, oldest first
	List(ctx context.Context, pairID string, limit int) ([]*domain.ChatMessage, error)
	// Watch emits messages with a timestamp after since, then new ones as they
	// arrive, in timestamp order
	Watch(ctx context.Context, pairID string, since time.Time) (<-chan *domain.ChatMessage, error)
}

// MessageIndex is the flat per-user message index
type MessageIndex interface {
	Index(ctx context.Context, entries []*domain.MessageIndexEntry) error
}

// FileUploader stores attachments
type FileUploader interface {
	Upload(ctx context.Context, pairID, fileName, contentType string, r io.Reader, size int64) (*domain.UploadResult, error)
}

// Sender identifies who posts a message
type Sender struct {
	ID   string
	Name string
}

// Service posts and reads conversation messages
type Service struct {
	store    MessageStore
	index    MessageIndex
	uploader FileUploader
	now      func() time.Time
}

// NewService creates a chat service. index and uploader may be nil.
func NewService(store MessageStore, index MessageIndex, uploader FileUploader) *Service {
	return &Service{store: store, index: index, uploader: uploader, now: time.Now}
}

// Post writes msg to the conversation and the global index, then updates the
// conversation's last message
func (s *Service) Post(ctx context.Context, pairID string, msg *domain.ChatMessage) (*domain.ChatMessage, error) {
	a, b, ok := domain.SplitPairID(pairID)
	if !ok {
		return nil, apperrors.ValidationError("invalid conversation id")
	}
	if msg.SenderID != a && msg.SenderID != b {
		return nil, apperrors.ForbiddenError("sender is not part of this conversation")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if msg.Type == "" {
		msg.Type = domain.MessageTypeText
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.store.Append(gctx, pairID, msg)
	})
	if s.index != nil {
		entries := indexEntries(pairID, msg, a, b)
		g.Go(func() error {
			// The index feeds unread counts elsewhere; losing an entry must not
			// fail the post.
			if err := s.index.Index(gctx, entries); err != nil {
				metrics.ChatMessageIndexErrorsTotal.Inc()
				logger.Warn("Failed to index chat message",
					zap.String("pair_id", pairID),
					zap.String("message_id", msg.ID),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.ChatPostsTotal.WithLabelValues(string(msg.Type), "failed").Inc()
		return nil, apperrors.DatabaseError(err)
	}
	metrics.ChatMessageDeliveryDuration.WithLabelValues("persist").Observe(time.Since(start).Seconds())

	meta := &domain.ConversationMeta{
		PairID:       pairID,
		Participants: []string{a, b},
		LastMessage:  msg.Preview(),
		LastUpdated:  msg.Timestamp,
	}
	if err := s.store.UpdateMeta(ctx, meta); err != nil {
		logger.Warn("Failed to update conversation metadata",
			zap.String("pair_id", pairID),
			zap.Error(err))
	}

	metrics.ChatPostsTotal.WithLabelValues(string(msg.Type), "success").Inc()
	return msg, nil
}

// PostText posts a text message
func (s *Service) PostText(ctx context.Context, pairID string, from Sender, text string) (*domain.ChatMessage, error) {
	text = sanitize.MessageText(text)
	if text == "" {
		return nil, apperrors.ValidationError("message is empty")
	}
	if utf8.RuneCountInString(text) > constants.MaxMessageLength {
		return nil, apperrors.ValidationError(fmt.Sprintf("message exceeds %d characters", constants.MaxMessageLength))
	}
	return s.Post(ctx, pairID, &domain.ChatMessage{
		SenderID:   from.ID,
		SenderName: from.Name,
		Content:    text,
		Type:       domain.MessageTypeText,
	})
}

// PostFile uploads an attachment and posts it. The message type follows the
// upload's resource type.
func (s *Service) PostFile(ctx context.Context, pairID string, from Sender, fileName, contentType string, r io.Reader, size int64) (*domain.ChatMessage, error) {
	if s.uploader == nil {
		return nil, apperrors.UploadError(fmt.Errorf("no attachment storage configured"))
	}
	if _, _, ok := domain.SplitPairID(pairID); !ok {
		return nil, apperrors.ValidationError("invalid conversation id")
	}
	fileName = sanitize.FileName(fileName)
	if fileName == "" {
		return nil, apperrors.ValidationError("file name is required")
	}

	res, err := s.uploader.Upload(ctx, pairID, fileName, contentType, r, size)
	if err != nil {
		metrics.ChatPostsTotal.WithLabelValues(string(domain.MessageTypeFile), "upload_failed").Inc()
		if apperrors.HasCode(err, apperrors.ErrCodeValidation) {
			return nil, err
		}
		return nil, apperrors.UploadError(err)
	}

	return s.Post(ctx, pairID, &domain.ChatMessage{
		SenderID:   from.ID,
		SenderName: from.Name,
		Type:       domain.AttachmentMessageType(res.ResourceType),
		FileURL:    res.URL,
		FileName:   fileName,
	})
}

// PostCallSummary records a finished call in the conversation
func (s *Service) PostCallSummary(ctx context.Context, pairID, senderID, senderName string, summary domain.CallSummary) error {
	_, err := s.Post(ctx, pairID, &domain.ChatMessage{
		SenderID:      senderID,
		SenderName:    senderName,
		Type:          domain.CallMessageType(summary.CallType),
		CallStatus:    summary.Status,
		CallDuration:  summary.Duration,
		CallDirection: summary.Direction,
	})
	return err
}

// History returns the newest messages, oldest first
func (s *Service) History(ctx context.Context, pairID string, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 {
		limit = constants.DefaultPageSize
	}
	if limit > constants.MaxPageSize {
		limit = constants.MaxPageSize
	}
	msgs, err := s.store.List(ctx, pairID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return msgs, nil
}

// Watch follows the conversation from since
func (s *Service) Watch(ctx context.Context, pairID string, since time.Time) (<-chan *domain.ChatMessage, error) {
	return s.store.Watch(ctx, pairID, since)
}

// Meta returns the conversation metadata, nil when nothing was posted yet
func (s *Service) Meta(ctx context.Context, pairID string) (*domain.ConversationMeta, error) {
	return s.store.GetMeta(ctx, pairID)
}

func indexEntries(pairID string, msg *domain.ChatMessage, participants ...string) []*domain.MessageIndexEntry {
	entries := make([]*domain.MessageIndexEntry, 0, len(participants))
	for _, userID := range participants {
		entries = append(entries, &domain.MessageIndexEntry{
			UserID:    userID,
			Bucket:    domain.CalculateBucket(msg.Timestamp),
			PairID:    pairID,
			MessageID: msg.ID,
			SenderID:  msg.SenderID,
			Type:      msg.Type,
			Preview:   msg.Preview(),
			SentAt:    msg.Timestamp,
		})
	}
	return entries
}
