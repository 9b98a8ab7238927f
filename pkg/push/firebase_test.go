package push

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockMessageSender is a mock implementation of messageSender
type MockMessageSender struct {
	mock.Mock
}

func (m *MockMessageSender) Send(ctx context.Context, message *messaging.Message) (string, error) {
	args := m.Called(ctx, message)
	return args.String(0), args.Error(1)
}

func TestFirebaseProvider_SendToUser(t *testing.T) {
	sender := new(MockMessageSender)
	provider := &FirebaseProvider{client: sender}

	notification := &Notification{
		Title:      "Incoming video call",
		Body:       "Alice is calling",
		Priority:   "high",
		Data:       map[string]string{"call_id": "c1"},
		TTLSeconds: 30,
	}

	// Setup expectations
	sender.On("Send", mock.Anything, mock.MatchedBy(func(msg *messaging.Message) bool {
		return msg.Topic == "user_bob" &&
			msg.Data["call_id"] == "c1" &&
			msg.Data["title"] == "Incoming video call" &&
			msg.Android.Priority == "high" &&
			msg.Android.TTL != nil
	})).Return("projects/p/messages/1", nil)

	// Execute
	err := provider.SendToUser(context.Background(), "bob", notification)

	// Assert
	assert.NoError(t, err)
	sender.AssertExpectations(t)
	_, mutated := notification.Data["title"]
	assert.False(t, mutated)
}

func TestFirebaseProvider_SendToUser_Error(t *testing.T) {
	sender := new(MockMessageSender)
	provider := &FirebaseProvider{client: sender}

	sender.On("Send", mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))

	err := provider.SendToUser(context.Background(), "bob", &Notification{Title: "t"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "user_bob")
}

func TestTopicForUser(t *testing.T) {
	assert.Equal(t, "user_abc-123", TopicForUser("abc-123"))
	assert.Equal(t, "user_a_b_c", TopicForUser("a/b c"))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderTypeMock, nil)
	assert.NoError(t, err)
	assert.IsType(t, MockProvider{}, p)

	p, err = NewProvider("carrier-pigeon", nil)
	assert.NoError(t, err)
	assert.IsType(t, MockProvider{}, p)

	_, err = NewProvider(ProviderTypeFirebase, nil)
	assert.Error(t, err)
}
