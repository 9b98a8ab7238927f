package memory

import (
	"context"
	"sync"
	"time"

	"skillswap-backend/internal/domain"
)

type presenceEntry struct {
	rec     domain.PresenceRecord
	expires time.Time
}

// PresenceRepository keeps presence records with optional expiry
type PresenceRepository struct {
	mu      sync.Mutex
	entries map[string]presenceEntry
	now     func() time.Time
}

// NewPresenceRepository creates an empty repository
func NewPresenceRepository() *PresenceRepository {
	return &PresenceRepository{entries: make(map[string]presenceEntry), now: time.Now}
}

// SetState writes the user's state
func (r *PresenceRepository) SetState(ctx context.Context, userID string, state domain.PresenceState, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := r.now()
	e := presenceEntry{rec: domain.PresenceRecord{UserID: userID, State: state, LastSeen: now}}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[userID] = e
	return nil
}

// Get returns the user's record, or nil when missing or expired
func (r *PresenceRepository) Get(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && r.now().After(e.expires) {
		delete(r.entries, userID)
		return nil, nil
	}
	rec := e.rec
	return &rec, nil
}
