// Package agent runs one user's side of calling: the per-conversation call
// machines, the incoming call overlay, presence and call-scoped chat, and
// streams every change to the UI.
package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/service/call"
	"skillswap-backend/internal/service/chat"
	"skillswap-backend/internal/service/notifier"
	"skillswap-backend/internal/service/presence"
	apperrors "skillswap-backend/pkg/errors"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
)

// Config holds the agent's identity and call timings
type Config struct {
	Self            call.Participant
	RingTimeout     time.Duration
	CleanupDelay    time.Duration
	CloseDelay      time.Duration
	PresenceRefresh time.Duration
}

// Stores are the shared stores the agent reads and writes. Index and Uploader
// may be nil.
type Stores struct {
	Calls    call.CallRepository
	Messages chat.MessageStore
	Presence presence.Repository
	Index    chat.MessageIndex
	Uploader chat.FileUploader
}

type unreadWatch struct {
	counter *chat.UnreadCounter
	cancel  context.CancelFunc
}

// Agent wires the call services of one user together
type Agent struct {
	cfg Config

	Calls    *call.Manager
	Notifier *notifier.Notifier
	Presence *presence.Tracker
	Chat     *chat.Service

	events *Broadcaster
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	watches map[string]*unreadWatch
}

// New builds an agent. media opens rooms; publisher may be nil.
func New(ctx context.Context, cfg Config, stores Stores, media call.MediaOpener, publisher call.EventPublisher) *Agent {
	actx, cancel := context.WithCancel(ctx)
	events := NewBroadcaster()
	tones := ToneEmitter{out: events}

	a := &Agent{
		cfg:     cfg,
		Chat:    chat.NewService(stores.Messages, stores.Index, stores.Uploader),
		events:  events,
		ctx:     actx,
		cancel:  cancel,
		watches: make(map[string]*unreadWatch),
	}
	a.Presence = presence.NewTracker(stores.Presence, cfg.Self.ID, cfg.PresenceRefresh)

	deps := call.Deps{
		Calls:    stores.Calls,
		Media:    media,
		Presence: a.Presence,
		Chat:     a.Chat,
		Events:   publisher,
		Tones:    tones,
	}
	a.Calls = call.NewManager(actx, call.ManagerConfig{
		Self:         cfg.Self,
		RingTimeout:  cfg.RingTimeout,
		CleanupDelay: cfg.CleanupDelay,
		CloseDelay:   cfg.CloseDelay,
		OnUpdate: func(s call.Snapshot) {
			snap := s
			events.Publish(Event{Type: EventCall, PairID: s.PairID, Call: &snap})
		},
	}, deps)

	a.Notifier = notifier.New(notifier.Config{
		Self:         cfg.Self,
		CleanupDelay: cfg.CleanupDelay,
	}, stores.Calls, a.Calls, a.Chat, tones)

	return a
}

// Start announces presence and begins forwarding overlay events
func (a *Agent) Start(ctx context.Context) error {
	if err := a.Presence.Start(ctx); err != nil {
		return apperrors.DatabaseError(err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				return
			case ev := <-a.Notifier.Events():
				overlay := ev
				a.events.Publish(Event{Type: EventOverlay, PairID: ev.Call.PairID, Overlay: &overlay})
			}
		}
	}()

	logger.Info("Call agent started", zap.String("user_id", a.cfg.Self.ID))
	return nil
}

// Self is the local participant
func (a *Agent) Self() call.Participant {
	return a.cfg.Self
}

// ArmNotifier starts overlay watching for the agent's lifetime
func (a *Agent) ArmNotifier() error {
	return a.Notifier.Arm(a.ctx)
}

// Subscribe streams UI events until the returned function is called
func (a *Agent) Subscribe() (<-chan Event, func()) {
	return a.events.Subscribe()
}

// StartCall dials peer in the conversation between self and peer
func (a *Agent) StartCall(ctx context.Context, peer call.Participant, callType domain.CallType) (call.Snapshot, error) {
	if peer.ID == "" || peer.ID == a.cfg.Self.ID {
		return call.Snapshot{}, apperrors.ValidationError("invalid peer")
	}
	if !callType.Valid() {
		return call.Snapshot{}, apperrors.ValidationError("call type must be audio or video")
	}

	m := a.Calls.Open(peer, callType)
	if err := a.WatchChat(m.PairID()); err != nil {
		logger.Warn("Failed to watch conversation", zap.String("pair_id", m.PairID()), zap.Error(err))
	}
	if err := m.StartCall(ctx); err != nil {
		return m.Snapshot(), err
	}
	return m.Snapshot(), nil
}

// Machine returns the conversation's machine
func (a *Agent) Machine(pairID string) (*call.Machine, error) {
	m, ok := a.Calls.Get(pairID)
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	return m, nil
}

// ChatSender identifies the local user as a message author
func (a *Agent) ChatSender() chat.Sender {
	return chat.Sender{ID: a.cfg.Self.ID, Name: a.cfg.Self.Name}
}

// WatchChat follows the conversation, counting unread peer messages. Watching a
// watched conversation is a no-op.
func (a *Agent) WatchChat(pairID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.watches[pairID]; ok {
		return nil
	}
	if _, _, ok := domain.SplitPairID(pairID); !ok {
		return apperrors.ValidationError("invalid conversation id")
	}

	now := time.Now()
	ctx, cancel := context.WithCancel(a.ctx)
	msgs, err := a.Chat.Watch(ctx, pairID, now)
	if err != nil {
		cancel()
		return apperrors.DatabaseError(err)
	}

	w := &unreadWatch{counter: chat.NewUnreadCounter(a.cfg.Self.ID, now), cancel: cancel}
	a.watches[pairID] = w
	metrics.ChatUnreadWatchersActive.Inc()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer metrics.ChatUnreadWatchersActive.Dec()
		for msg := range msgs {
			count := w.counter.Observe(msg)
			a.events.Publish(Event{Type: EventChat, PairID: pairID, Message: msg})
			a.events.Publish(Event{Type: EventUnread, PairID: pairID, Unread: &count})
		}
		a.mu.Lock()
		if a.watches[pairID] == w {
			delete(a.watches, pairID)
		}
		a.mu.Unlock()
	}()
	return nil
}

// OpenChat marks the conversation's panel open, clearing its unread count
func (a *Agent) OpenChat(pairID string) error {
	if err := a.WatchChat(pairID); err != nil {
		return err
	}
	a.mu.Lock()
	w := a.watches[pairID]
	a.mu.Unlock()
	if w == nil {
		return nil
	}

	w.counter.Open(time.Now())
	zero := 0
	a.events.Publish(Event{Type: EventUnread, PairID: pairID, Unread: &zero})
	return nil
}

// CloseChat marks the panel closed; later peer messages count as unread
func (a *Agent) CloseChat(pairID string) {
	a.mu.Lock()
	w := a.watches[pairID]
	a.mu.Unlock()
	if w != nil {
		w.counter.Close(time.Now())
	}
}

// Unread returns the conversation's unread count
func (a *Agent) Unread(pairID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.watches[pairID]; ok {
		return w.counter.Count()
	}
	return 0
}

// Shutdown ends every call, goes offline and stops all watches
func (a *Agent) Shutdown(ctx context.Context) {
	a.Notifier.Disarm()
	a.Calls.Shutdown(ctx)
	if err := a.Presence.Stop(ctx); err != nil {
		logger.Warn("Failed to mark user offline", zap.Error(err))
	}

	a.cancel()
	a.wg.Wait()
	a.events.Close()
	logger.Info("Call agent stopped", zap.String("user_id", a.cfg.Self.ID))
}
