// Package notifier raises the app-wide ringing overlay for calls addressed to
// the local user, regardless of which conversation is on screen.
package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/service/call"
	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/logger"
)

// EventKind tells the UI whether to show or hide an overlay
type EventKind string

const (
	EventRinging   EventKind = "ringing"
	EventDismissed EventKind = "dismissed"
)

// Incoming is the overlay content for one call
type Incoming struct {
	CallID    string          `json:"callId"`
	PairID    string          `json:"pairId"`
	From      string          `json:"from"`
	FromName  string          `json:"fromName"`
	CallType  domain.CallType `json:"callType"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Event is one overlay change
type Event struct {
	Kind EventKind `json:"kind"`
	Call Incoming  `json:"call"`
}

// Machines is the part of call.Manager the notifier hands calls to
type Machines interface {
	Open(peer call.Participant, callType domain.CallType) *call.Machine
	Get(pairID string) (*call.Machine, bool)
}

// Config holds notifier settings
type Config struct {
	Self         call.Participant
	CleanupDelay time.Duration
	// EventBuffer sizes the Events channel. Events are dropped when it is full.
	EventBuffer int
}

type overlayKey struct {
	from     string
	callType domain.CallType
}

// Notifier watches for pending calls to the local user while armed
type Notifier struct {
	cfg      Config
	calls    call.CallRepository
	machines Machines
	chat     call.SummaryPoster
	tones    call.TonePlayer
	now      func() time.Time
	events   chan Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	pending map[string]*domain.CallRecord
	shown   map[overlayKey]string
}

// New creates a disarmed notifier. chat and tones may be nil.
func New(cfg Config, calls call.CallRepository, machines Machines, chat call.SummaryPoster, tones call.TonePlayer) *Notifier {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 32
	}
	return &Notifier{
		cfg:      cfg,
		calls:    calls,
		machines: machines,
		chat:     chat,
		tones:    tones,
		now:      time.Now,
		events:   make(chan Event, cfg.EventBuffer),
		pending:  make(map[string]*domain.CallRecord),
		shown:    make(map[overlayKey]string),
	}
}

// Events delivers overlay changes
func (n *Notifier) Events() <-chan Event {
	return n.events
}

// Armed reports whether the subscription is running
func (n *Notifier) Armed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cancel != nil
}

// Arm starts watching. Arming an armed notifier is a no-op.
func (n *Notifier) Arm(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cancel != nil {
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	ch, err := n.calls.WatchIncoming(wctx, n.cfg.Self.ID)
	if err != nil {
		cancel()
		return apperrors.DatabaseError(err)
	}
	done := make(chan struct{})
	n.cancel = cancel
	n.done = done

	go n.loop(ch, done)
	logger.Debug("Incoming call notifier armed", zap.String("user_id", n.cfg.Self.ID))
	return nil
}

// Disarm stops watching and dismisses every overlay
func (n *Notifier) Disarm() {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel, n.done = nil, nil
	n.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	n.mu.Lock()
	defer n.mu.Unlock()
	for key, id := range n.shown {
		n.dismissLocked(key, id)
	}
	n.pending = make(map[string]*domain.CallRecord)
}

// Pending returns the calls currently shown
func (n *Notifier) Pending() []Incoming {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Incoming, 0, len(n.shown))
	for _, id := range n.shown {
		if rec, ok := n.pending[id]; ok {
			out = append(out, n.incoming(rec))
		}
	}
	return out
}

func (n *Notifier) loop(ch <-chan domain.CallChange, done chan struct{}) {
	defer close(done)
	for c := range ch {
		if c.Err != nil {
			if !errors.Is(c.Err, domain.ErrPermissionDenied) {
				logger.Warn("Incoming call subscription failed", zap.Error(c.Err))
			}
			continue
		}
		n.apply(c)
	}
}

func (n *Notifier) apply(c domain.CallChange) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := c.ID
	if c.Record != nil && c.Record.ID != "" {
		id = c.Record.ID
	}

	switch {
	case c.Kind == domain.ChangeAdded && c.Record != nil && c.Record.Pending() && c.Record.To == n.cfg.Self.ID:
		rec := c.Record.Clone()
		rec.ID = id
		n.pending[id] = rec
		key := keyOf(rec)
		if _, ok := n.shown[key]; ok {
			logger.Debug("Duplicate incoming call suppressed",
				zap.String("call_id", id),
				zap.String("from", rec.From))
			return
		}
		n.show(key, rec)

	case c.Kind == domain.ChangeRemoved, c.Record != nil && !c.Record.Pending():
		n.resolveLocked(id)
	}
}

// resolveLocked forgets id and, if it was on screen, replaces its overlay with
// the next pending call of the same key.
func (n *Notifier) resolveLocked(id string) {
	rec, ok := n.pending[id]
	if !ok {
		return
	}
	delete(n.pending, id)

	key := keyOf(rec)
	if n.shown[key] != id {
		return
	}
	n.dismissLocked(key, id)
	for _, next := range n.pending {
		if keyOf(next) == key {
			n.show(key, next)
			return
		}
	}
}

func (n *Notifier) show(key overlayKey, rec *domain.CallRecord) {
	n.shown[key] = rec.ID
	if n.tones != nil {
		n.tones.PlayIncoming(domain.PairID(rec.From, rec.To))
	}
	n.emit(Event{Kind: EventRinging, Call: n.incoming(rec)})
}

func (n *Notifier) dismissLocked(key overlayKey, id string) {
	delete(n.shown, key)
	rec, ok := n.pending[id]
	if !ok {
		rec = &domain.CallRecord{ID: id, From: key.from, To: n.cfg.Self.ID, CallType: key.callType}
	}
	if n.tones != nil && !n.ringingFromLocked(key.from) {
		n.tones.Stop(domain.PairID(rec.From, rec.To))
	}
	n.emit(Event{Kind: EventDismissed, Call: n.incoming(rec)})
}

func (n *Notifier) ringingFromLocked(from string) bool {
	for key := range n.shown {
		if key.from == from {
			return true
		}
	}
	return false
}

func (n *Notifier) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
		logger.Warn("Dropping notifier event, consumer too slow",
			zap.String("kind", string(ev.Kind)),
			zap.String("call_id", ev.Call.CallID))
	}
}

func (n *Notifier) incoming(rec *domain.CallRecord) Incoming {
	return Incoming{
		CallID:    rec.ID,
		PairID:    domain.PairID(rec.From, rec.To),
		From:      rec.From,
		FromName:  rec.FromName,
		CallType:  rec.CallType,
		CreatedAt: rec.CreatedAt,
	}
}

func keyOf(rec *domain.CallRecord) overlayKey {
	return overlayKey{from: rec.From, callType: rec.CallType}
}

func (n *Notifier) lookup(id string) (*domain.CallRecord, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	rec, ok := n.pending[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Answer hands the call to the conversation's machine and answers it there
func (n *Notifier) Answer(ctx context.Context, callID string) (*call.Machine, error) {
	rec, ok := n.lookup(callID)
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}

	m := n.machines.Open(call.Participant{ID: rec.From, Name: rec.FromName}, rec.CallType)
	if err := m.Ring(ctx, rec); err != nil {
		return nil, err
	}
	if err := m.AnswerCall(ctx); err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.resolveLocked(callID)
	n.mu.Unlock()
	return m, nil
}

// Decline rejects the call. A machine already ringing for it declines through
// its own path; otherwise the record is written here and a rejected summary is
// posted.
func (n *Notifier) Decline(ctx context.Context, callID string) error {
	rec, ok := n.lookup(callID)
	if !ok {
		return apperrors.CallNotFoundError()
	}
	pairID := domain.PairID(rec.From, rec.To)

	if m, ok := n.machines.Get(pairID); ok {
		if snap := m.Snapshot(); snap.CallID == callID && snap.State == call.StateRinging {
			err := m.DeclineCall(ctx)
			n.mu.Lock()
			n.resolveLocked(callID)
			n.mu.Unlock()
			return err
		}
	}

	applied, err := call.DeclineRecord(ctx, n.calls, callID, n.cfg.Self.ID, n.now(), n.cfg.CleanupDelay)

	n.mu.Lock()
	n.resolveLocked(callID)
	n.mu.Unlock()

	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if !applied || n.chat == nil {
		return nil
	}

	summary := domain.CallSummary{
		CallID:    callID,
		CallType:  rec.CallType,
		Status:    domain.CallStatusRejected,
		Direction: domain.DirectionIncoming,
	}
	if err := n.chat.PostCallSummary(ctx, pairID, n.cfg.Self.ID, n.cfg.Self.Name, summary); err != nil {
		logger.Warn("Failed to post decline summary",
			zap.String("call_id", callID),
			zap.Error(err))
	}
	return nil
}
