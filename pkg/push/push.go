package push

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
)

// Provider defines interface for sending push notifications
type Provider interface {
	SendToUser(ctx context.Context, userID string, notification *Notification) error
}

// Notification represents a push notification
type Notification struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Priority    string            `json:"priority,omitempty"` // high, normal
	Sound       string            `json:"sound,omitempty"`
	ClickAction string            `json:"click_action,omitempty"`
	// TTLSeconds drops the notification if it cannot be delivered in time.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// TopicForUser is the messaging topic every device of userID subscribes to.
// Topic names only allow [a-zA-Z0-9-_.~%].
func TopicForUser(userID string) string {
	var b strings.Builder
	b.WriteString("user_")
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.', r == '~':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// MockProvider logs notifications instead of sending them
type MockProvider struct{}

// SendToUser logs the notification
func (MockProvider) SendToUser(_ context.Context, userID string, notification *Notification) error {
	logger.Info("Mock push sent",
		zap.String("user_id", userID),
		zap.String("title", notification.Title))
	return nil
}
