package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/email"
	"skillswap-backend/pkg/push"
)

// MockCallLogWriter is a mock implementation of CallLogWriter
type MockCallLogWriter struct {
	mock.Mock
}

func (m *MockCallLogWriter) Upsert(ctx context.Context, log *domain.CallLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

// MockPushProvider is a mock implementation of push.Provider
type MockPushProvider struct {
	mock.Mock
}

func (m *MockPushProvider) SendToUser(ctx context.Context, userID string, n *push.Notification) error {
	args := m.Called(ctx, userID, n)
	return args.Error(0)
}

// MockMailer is a mock implementation of MissedCallMailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendMissedCallEmail(ctx context.Context, to string, data *email.MissedCallEmailData) error {
	args := m.Called(ctx, to, data)
	return args.Error(0)
}

// MockContactDirectory is a mock implementation of ContactDirectory
type MockContactDirectory struct {
	mock.Mock
}

func (m *MockContactDirectory) GetContact(ctx context.Context, userID string) (*domain.Contact, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Contact), args.Error(1)
}

// MockEventLedger is a mock implementation of EventLedger
type MockEventLedger struct {
	mock.Mock
}

func (m *MockEventLedger) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventLedger) Forget(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

// MockAcknowledger records how a delivery was settled
type MockAcknowledger struct {
	mock.Mock
}

func (m *MockAcknowledger) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *MockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	return m.Called(tag, multiple, requeue).Error(0)
}

func (m *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Called(tag, requeue).Error(0)
}

type fakeSource struct {
	msgs chan amqp.Delivery
}

func (s *fakeSource) ConsumeCallEvents(ctx context.Context, consumerTag string) (<-chan amqp.Delivery, error) {
	return s.msgs, nil
}

func startedEvent() *domain.CallEvent {
	return &domain.CallEvent{
		EventID:    "ev-1",
		Type:       domain.EventCallStarted,
		CallID:     "call-1",
		RoomName:   "alice_bob",
		CallerID:   "alice",
		CallerName: "Alice",
		CalleeID:   "bob",
		CalleeName: "Bob",
		CallType:   domain.CallTypeVideo,
		StartedAt:  time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		OccurredAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func endedEvent(outcome domain.CallStatus) *domain.CallEvent {
	ev := startedEvent()
	ev.EventID = "ev-2"
	ev.Type = domain.EventCallEnded
	ev.Outcome = outcome
	ev.OccurredAt = ev.StartedAt.Add(30 * time.Second)
	return ev
}

func TestHandle_StartedPushesIncoming(t *testing.T) {
	logs := new(MockCallLogWriter)
	pusher := new(MockPushProvider)
	w := NewNotificationWorker(logs, pusher, Options{})

	// Setup expectations
	logs.On("Upsert", mock.Anything, mock.MatchedBy(func(l *domain.CallLog) bool {
		return l.CallID == "call-1" && l.EndedAt == nil && l.Outcome == ""
	})).Return(nil)
	pusher.On("SendToUser", mock.Anything, "bob", mock.MatchedBy(func(n *push.Notification) bool {
		return n.Data["type"] == "incoming_call" && n.Priority == "high" && n.TTLSeconds == 30
	})).Return(nil)

	// Execute
	err := w.Handle(context.Background(), startedEvent())

	// Assert
	require.NoError(t, err)
	logs.AssertExpectations(t)
	pusher.AssertExpectations(t)
}

func TestHandle_MissedPushesAndEmails(t *testing.T) {
	logs := new(MockCallLogWriter)
	pusher := new(MockPushProvider)
	mailer := new(MockMailer)
	contacts := new(MockContactDirectory)
	w := NewNotificationWorker(logs, pusher, Options{Mailer: mailer, Contacts: contacts, AppURL: "https://app"})

	logs.On("Upsert", mock.Anything, mock.MatchedBy(func(l *domain.CallLog) bool {
		return l.Outcome == domain.CallStatusMissed && l.EndedAt != nil
	})).Return(nil)
	pusher.On("SendToUser", mock.Anything, "bob", mock.MatchedBy(func(n *push.Notification) bool {
		return n.Data["type"] == "missed_call"
	})).Return(nil)
	contacts.On("GetContact", mock.Anything, "bob").Return(&domain.Contact{UserID: "bob", Email: "bob@example.com"}, nil)
	mailer.On("SendMissedCallEmail", mock.Anything, "bob@example.com", mock.MatchedBy(func(d *email.MissedCallEmailData) bool {
		return d.CallerName == "Alice" && d.RecipientName == "Bob" && d.AppURL == "https://app"
	})).Return(nil)

	err := w.Handle(context.Background(), endedEvent(domain.CallStatusMissed))

	require.NoError(t, err)
	pusher.AssertExpectations(t)
	mailer.AssertExpectations(t)
}

func TestHandle_CompletedOnlyLogs(t *testing.T) {
	logs := new(MockCallLogWriter)
	pusher := new(MockPushProvider)
	w := NewNotificationWorker(logs, pusher, Options{})

	logs.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	require.NoError(t, w.Handle(context.Background(), endedEvent(domain.CallStatusCompleted)))
	require.NoError(t, w.Handle(context.Background(), endedEvent(domain.CallStatusRejected)))

	pusher.AssertNotCalled(t, "SendToUser", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_PushFailureIsNotFatal(t *testing.T) {
	logs := new(MockCallLogWriter)
	pusher := new(MockPushProvider)
	w := NewNotificationWorker(logs, pusher, Options{})

	logs.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	pusher.On("SendToUser", mock.Anything, "bob", mock.Anything).Return(errors.New("fcm down"))

	assert.NoError(t, w.Handle(context.Background(), startedEvent()))
}

func TestHandle_EmailSkippedWithoutAddress(t *testing.T) {
	logs := new(MockCallLogWriter)
	mailer := new(MockMailer)
	contacts := new(MockContactDirectory)
	w := NewNotificationWorker(logs, nil, Options{Mailer: mailer, Contacts: contacts})

	logs.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	contacts.On("GetContact", mock.Anything, "bob").Return(nil, nil)

	require.NoError(t, w.Handle(context.Background(), endedEvent(domain.CallStatusCancelled)))

	mailer.AssertNotCalled(t, "SendMissedCallEmail", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_DuplicateSkipped(t *testing.T) {
	logs := new(MockCallLogWriter)
	ledger := new(MockEventLedger)
	w := NewNotificationWorker(logs, nil, Options{Ledger: ledger})

	ledger.On("MarkProcessed", mock.Anything, "ev-1").Return(false, nil)

	require.NoError(t, w.Handle(context.Background(), startedEvent()))

	logs.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestHandle_LogFailureForgetsEvent(t *testing.T) {
	logs := new(MockCallLogWriter)
	ledger := new(MockEventLedger)
	w := NewNotificationWorker(logs, nil, Options{Ledger: ledger})

	ledger.On("MarkProcessed", mock.Anything, "ev-1").Return(true, nil)
	ledger.On("Forget", mock.Anything, "ev-1").Return(nil)
	logs.On("Upsert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	err := w.Handle(context.Background(), startedEvent())

	assert.Error(t, err)
	ledger.AssertExpectations(t)
}

func TestRun_SettlesDeliveries(t *testing.T) {
	logs := new(MockCallLogWriter)
	w := NewNotificationWorker(logs, nil, Options{})
	source := &fakeSource{msgs: make(chan amqp.Delivery, 4)}

	body, err := json.Marshal(startedEvent())
	require.NoError(t, err)

	ok := new(MockAcknowledger)
	ok.On("Ack", uint64(1), false).Return(nil)
	malformed := new(MockAcknowledger)
	malformed.On("Reject", uint64(2), false).Return(nil)
	failing := new(MockAcknowledger)
	failing.On("Nack", uint64(3), false, true).Return(nil)
	failingAgain := new(MockAcknowledger)
	failingAgain.On("Nack", uint64(4), false, false).Return(nil)

	logs.On("Upsert", mock.Anything, mock.Anything).Return(nil).Once()
	logs.On("Upsert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	source.msgs <- amqp.Delivery{Acknowledger: ok, DeliveryTag: 1, Body: body}
	source.msgs <- amqp.Delivery{Acknowledger: malformed, DeliveryTag: 2, Body: []byte("{")}
	source.msgs <- amqp.Delivery{Acknowledger: failing, DeliveryTag: 3, Body: body}
	source.msgs <- amqp.Delivery{Acknowledger: failingAgain, DeliveryTag: 4, Body: body, Redelivered: true}
	close(source.msgs)

	err = w.Run(context.Background(), source, "test")

	assert.Error(t, err)
	ok.AssertExpectations(t)
	malformed.AssertExpectations(t)
	failing.AssertExpectations(t)
	failingAgain.AssertExpectations(t)
}
