package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"skillswap-backend/internal/database"
	"skillswap-backend/internal/domain"
)

const onlineSetKey = "presence:online"

func presenceKey(userID string) string {
	return "presence:" + userID
}

// PresenceRepository handles user presence in Redis. Records expire when the
// owner stops refreshing them.
type PresenceRepository struct {
	client *database.RedisClient
	now    func() time.Time
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client, now: time.Now}
}

// SetState writes the user's state. ttl 0 keeps the record without expiry.
func (r *PresenceRepository) SetState(ctx context.Context, userID string, state domain.PresenceState, ttl time.Duration) error {
	rec := domain.PresenceRecord{UserID: userID, State: state, LastSeen: r.now()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}

	if err := r.client.SafeSet(ctx, presenceKey(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}

	// The set is a listing aid only; Get reads the expiring key.
	if state == domain.PresenceOnline {
		err = r.client.SafeSAdd(ctx, onlineSetKey, userID).Err()
	} else {
		err = r.client.SafeSRem(ctx, onlineSetKey, userID).Err()
	}
	if err != nil {
		return fmt.Errorf("failed to update online set: %w", err)
	}
	return nil
}

// Get returns the user's record, nil when absent or expired
func (r *PresenceRepository) Get(ctx context.Context, userID string) (*domain.PresenceRecord, error) {
	data, err := r.client.SafeGet(ctx, presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}

	rec := &domain.PresenceRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode presence: %w", err)
	}
	rec.UserID = userID
	return rec, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
