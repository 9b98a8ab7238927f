package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"skillswap-backend/internal/domain"
)

// presenceDoc is the status/{userId} document. Firestore has no key expiry, so
// readers compare ExpiresAt themselves.
type presenceDoc struct {
	State     domain.PresenceState `firestore:"state"`
	LastSeen  time.Time            `firestore:"lastSeen"`
	ExpiresAt *time.Time           `firestore:"expiresAt"`
}

// PresenceRepository stores presence in the status collection
type PresenceRepository struct {
	client *firestore.Client
	now    func() time.Time
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *firestore.Client) *PresenceRepository {
	return &PresenceRepository{client: client, now: time.Now}
}

// SetState writes the user's state. ttl 0 keeps the record without expiry.
func (r *PresenceRepository) SetState(ctx context.Context, userID string, state domain.PresenceState, ttl time.Duration) error {
	now := r.now()
	doc := presenceDoc{State: state, LastSeen: now}
	if ttl > 0 {
		exp := now.Add(ttl)
		doc.ExpiresAt = &exp
	}
	if _, err := r.client.Collection(statusCollection).Doc(userID).Set(ctx, doc); err != nil {
		return wrap("failed to set presence", err)
	}
	return nil
}

// Get returns the user's record, nil when absent or expired
func (r *PresenceRepository) Get(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	snap, err := r.client.Collection(statusCollection).Doc(userID).Get(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("failed to get presence", err)
	}

	var doc presenceDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode presence: %w", err)
	}
	return fromPresenceDoc(userID, doc, r.now()), nil
}

func fromPresenceDoc(userID string, doc presenceDoc, now time.Time) *domain.PresenceRecord {
	if doc.ExpiresAt != nil && !now.Before(*doc.ExpiresAt) {
		return nil
	}
	return &domain.PresenceRecord{UserID: userID, State: doc.State, LastSeen: doc.LastSeen}
}
