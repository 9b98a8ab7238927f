// Package presence keeps the local user's online flag fresh and answers
// whether a peer is online.
package presence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/constants"
	"skillswap-backend/pkg/logger"
)

// Repository persists presence records
type Repository interface {
	// SetState writes the user's state. A positive ttl expires the record.
	SetState(ctx context.Context, userID string, state domain.PresenceState, ttl time.Duration) error
	// Get returns nil, nil when the user has no record
	Get(ctx context.Context, userID string) (*domain.PresenceRecord, error)
}

// Tracker announces one user's presence
type Tracker struct {
	repo     Repository
	userID   string
	interval time.Duration
	ttl      time.Duration

	mu      sync.Mutex
	visible bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTracker creates a tracker for userID refreshing every interval
func NewTracker(repo Repository, userID string, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = constants.PresenceRefreshInterval
	}
	return &Tracker{
		repo:     repo,
		userID:   userID,
		interval: interval,
		ttl:      3 * interval,
		visible:  true,
	}
}

// Start marks the user online and refreshes until Stop
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.done = make(chan struct{})
	t.visible = true
	t.mu.Unlock()

	if err := t.repo.SetState(ctx, t.userID, domain.PresenceOnline, t.ttl); err != nil {
		logger.Warn("Failed to mark user online", zap.String("user_id", t.userID), zap.Error(err))
	}

	go t.refreshLoop(loopCtx)
	return nil
}

func (t *Tracker) refreshLoop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			visible := t.visible
			t.mu.Unlock()
			if !visible {
				continue
			}
			if err := t.repo.SetState(ctx, t.userID, domain.PresenceOnline, t.ttl); err != nil && ctx.Err() == nil {
				logger.Debug("Presence refresh failed", zap.String("user_id", t.userID), zap.Error(err))
			}
		}
	}
}

// SetVisible records an app visibility change. Hidden clients show as away.
func (t *Tracker) SetVisible(ctx context.Context, visible bool) error {
	t.mu.Lock()
	t.visible = visible
	t.mu.Unlock()

	state := domain.PresenceOnline
	if !visible {
		state = domain.PresenceAway
	}
	return t.repo.SetState(ctx, t.userID, state, t.ttl)
}

// Stop ends refreshing and marks the user offline
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return t.repo.SetState(ctx, t.userID, domain.PresenceOffline, 0)
}

// IsOnline reports whether userID is online. A missing record is offline.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	rec, err := t.repo.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return rec.Online(), nil
}
