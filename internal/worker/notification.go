package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/constants"
	"skillswap-backend/pkg/email"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
	"skillswap-backend/pkg/push"
)

// handleTimeout bounds the work done for one event
const handleTimeout = 15 * time.Second

// CallLogWriter persists call history rows
type CallLogWriter interface {
	Upsert(ctx context.Context, log *domain.CallLog) error
}

// ContactDirectory looks up how to reach a user
type ContactDirectory interface {
	GetContact(ctx context.Context, userID string) (*domain.Contact, error)
}

// MissedCallMailer sends missed-call emails
type MissedCallMailer interface {
	SendMissedCallEmail(ctx context.Context, to string, data *email.MissedCallEmailData) error
}

// EventLedger deduplicates redelivered events
type EventLedger interface {
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// EventSource delivers call events from the broker
type EventSource interface {
	ConsumeCallEvents(ctx context.Context, consumerTag string) (<-chan amqp.Delivery, error)
}

// NotificationWorker turns call lifecycle events into push notifications,
// missed-call emails and call log rows
type NotificationWorker struct {
	logs     CallLogWriter
	push     push.Provider
	mailer   MissedCallMailer
	contacts ContactDirectory
	ledger   EventLedger
	appURL   string
}

// Options wires the optional collaborators. Nil fields disable that channel.
type Options struct {
	Mailer   MissedCallMailer
	Contacts ContactDirectory
	Ledger   EventLedger
	AppURL   string
}

// NewNotificationWorker creates a new worker
func NewNotificationWorker(logs CallLogWriter, pusher push.Provider, opts Options) *NotificationWorker {
	return &NotificationWorker{
		logs:     logs,
		push:     pusher,
		mailer:   opts.Mailer,
		contacts: opts.Contacts,
		ledger:   opts.Ledger,
		appURL:   opts.AppURL,
	}
}

// Run consumes events until ctx is done or the delivery channel closes
func (w *NotificationWorker) Run(ctx context.Context, source EventSource, consumerTag string) error {
	msgs, err := source.ConsumeCallEvents(ctx, consumerTag)
	if err != nil {
		return err
	}

	logger.Info("Notification worker consuming", zap.String("consumer", consumerTag))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel closed")
			}
			w.deliver(ctx, d)
		}
	}
}

func (w *NotificationWorker) deliver(ctx context.Context, d amqp.Delivery) {
	var ev domain.CallEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		logger.Warn("Dropping malformed call event",
			zap.String("message_id", d.MessageId),
			zap.Error(err))
		d.Reject(false)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	err := w.Handle(hctx, &ev)
	cancel()

	switch {
	case err == nil:
		d.Ack(false)
	case d.Redelivered:
		logger.Error("Call event failed twice, dead-lettering",
			zap.String("event_id", ev.EventID),
			zap.Error(err))
		d.Nack(false, false)
	default:
		logger.Warn("Call event failed, requeueing",
			zap.String("event_id", ev.EventID),
			zap.Error(err))
		d.Nack(false, true)
	}
}

// Handle processes one event. Only a call log failure is returned; push and
// email are best effort.
func (w *NotificationWorker) Handle(ctx context.Context, ev *domain.CallEvent) error {
	log := logger.With(
		zap.String("event_id", ev.EventID),
		zap.String("type", string(ev.Type)),
		zap.String("call_id", ev.CallID))

	if w.ledger != nil && ev.EventID != "" {
		first, err := w.ledger.MarkProcessed(ctx, ev.EventID)
		if err != nil {
			log.Warn("Event ledger unavailable, processing anyway", zap.Error(err))
		} else if !first {
			log.Debug("Skipping duplicate call event")
			return nil
		}
	}

	if err := w.logs.Upsert(ctx, domain.LogFromEvent(ev)); err != nil {
		if w.ledger != nil && ev.EventID != "" {
			if ferr := w.ledger.Forget(ctx, ev.EventID); ferr != nil {
				log.Warn("Failed to clear event ledger", zap.Error(ferr))
			}
		}
		return fmt.Errorf("failed to record call log: %w", err)
	}

	var g errgroup.Group
	switch {
	case ev.Type == domain.EventCallStarted:
		g.Go(func() error { return w.pushIncoming(ctx, ev) })
	case ev.Type == domain.EventCallEnded && missedByCallee(ev):
		g.Go(func() error { return w.pushMissed(ctx, ev) })
		g.Go(func() error { return w.emailMissed(ctx, ev) })
	}
	if err := g.Wait(); err != nil {
		log.Warn("Call notification failed", zap.Error(err))
	}
	return nil
}

// missedByCallee is true when the callee never picked up and did not decline
func missedByCallee(ev *domain.CallEvent) bool {
	return ev.Outcome == domain.CallStatusMissed || ev.Outcome == domain.CallStatusCancelled
}

func (w *NotificationWorker) pushIncoming(ctx context.Context, ev *domain.CallEvent) error {
	n := &push.Notification{
		Title:    fmt.Sprintf("Incoming %s call", ev.CallType),
		Body:     fmt.Sprintf("%s is calling you", callerName(ev)),
		Priority: "high",
		Sound:    "ringtone",
		Data: map[string]string{
			"type":      "incoming_call",
			"call_id":   ev.CallID,
			"room_name": ev.RoomName,
			"call_type": string(ev.CallType),
			"caller_id": ev.CallerID,
		},
		TTLSeconds: int(constants.RingTimeout / time.Second),
	}
	return w.send(ctx, "push", ev.CalleeID, n)
}

func (w *NotificationWorker) pushMissed(ctx context.Context, ev *domain.CallEvent) error {
	n := &push.Notification{
		Title:    "Missed call",
		Body:     fmt.Sprintf("You missed a %s call from %s", ev.CallType, callerName(ev)),
		Priority: "normal",
		Data: map[string]string{
			"type":      "missed_call",
			"call_id":   ev.CallID,
			"call_type": string(ev.CallType),
			"caller_id": ev.CallerID,
		},
	}
	return w.send(ctx, "push", ev.CalleeID, n)
}

func (w *NotificationWorker) send(ctx context.Context, channel, userID string, n *push.Notification) error {
	if w.push == nil {
		return nil
	}
	if err := w.push.SendToUser(ctx, userID, n); err != nil {
		metrics.NotificationsSentTotal.WithLabelValues(channel, "error").Inc()
		return err
	}
	metrics.NotificationsSentTotal.WithLabelValues(channel, "sent").Inc()
	return nil
}

func (w *NotificationWorker) emailMissed(ctx context.Context, ev *domain.CallEvent) error {
	if w.mailer == nil || w.contacts == nil {
		return nil
	}
	contact, err := w.contacts.GetContact(ctx, ev.CalleeID)
	if err != nil {
		return err
	}
	if contact == nil || contact.Email == "" {
		metrics.NotificationsSentTotal.WithLabelValues("email", "skipped").Inc()
		return nil
	}

	recipient := contact.DisplayName
	if recipient == "" {
		recipient = ev.CalleeName
	}
	err = w.mailer.SendMissedCallEmail(ctx, contact.Email, &email.MissedCallEmailData{
		RecipientName: recipient,
		CallerName:    callerName(ev),
		CallType:      string(ev.CallType),
		At:            ev.StartedAt,
		AppURL:        w.appURL,
	})
	if err != nil {
		metrics.NotificationsSentTotal.WithLabelValues("email", "error").Inc()
		return err
	}
	metrics.NotificationsSentTotal.WithLabelValues("email", "sent").Inc()
	return nil
}

func callerName(ev *domain.CallEvent) string {
	if ev.CallerName != "" {
		return ev.CallerName
	}
	return "Someone"
}
