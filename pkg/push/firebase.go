package push

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"skillswap-backend/pkg/logger"
)

// messageSender is the subset of *messaging.Client used here
type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FirebaseProvider implements Provider using Firebase Cloud Messaging topics
type FirebaseProvider struct {
	client messageSender
}

// NewFirebaseProvider creates a provider from an initialized messaging client
func NewFirebaseProvider(client *messaging.Client) *FirebaseProvider {
	return &FirebaseProvider{client: client}
}

// SendToUser publishes the notification to the user's topic
func (f *FirebaseProvider) SendToUser(ctx context.Context, userID string, notification *Notification) error {
	msg := buildMessage(notification)
	msg.Topic = TopicForUser(userID)

	id, err := f.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send push to %s: %w", msg.Topic, err)
	}

	logger.Debug("Push sent",
		zap.String("user_id", userID),
		zap.String("message_id", id))
	return nil
}

// buildMessage constructs a Firebase message from a notification
func buildMessage(notification *Notification) *messaging.Message {
	data := make(map[string]string, len(notification.Data)+3)
	for k, v := range notification.Data {
		data[k] = v
	}
	data["title"] = notification.Title
	data["body"] = notification.Body
	data["timestamp"] = fmt.Sprintf("%d", time.Now().Unix())

	androidNotification := &messaging.AndroidNotification{
		Title:       notification.Title,
		Body:        notification.Body,
		Sound:       notification.Sound,
		ClickAction: notification.ClickAction,
	}

	androidConfig := &messaging.AndroidConfig{
		Notification: androidNotification,
		Data:         data,
		Priority:     notification.Priority,
	}
	if notification.TTLSeconds > 0 {
		ttl := time.Duration(notification.TTLSeconds) * time.Second
		androidConfig.TTL = &ttl
	}

	apnsConfig := &messaging.APNSConfig{
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Alert: &messaging.ApsAlert{
					Title: notification.Title,
					Body:  notification.Body,
				},
				Sound: notification.Sound,
			},
		},
	}

	webpushConfig := &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: notification.Title,
			Body:  notification.Body,
			Icon:  "/icon-192x192.png",
		},
		Data: data,
	}

	return &messaging.Message{
		Data:    data,
		Android: androidConfig,
		APNS:    apnsConfig,
		Webpush: webpushConfig,
	}
}
