package redis

import (
	"context"
	"fmt"
	"time"

	"skillswap-backend/internal/database"
)

// ProcessedEventTTL covers the broker's redelivery window
const ProcessedEventTTL = 24 * time.Hour

// EventRepository remembers which broker events were already handled
type EventRepository struct {
	client *database.RedisClient
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(client *database.RedisClient) *EventRepository {
	return &EventRepository{client: client}
}

// MarkProcessed records eventID and reports whether this call was the first
func (r *EventRepository) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	first, err := r.client.SafeSetNX(ctx, "events:processed:"+eventID, "1", ProcessedEventTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return first, nil
}

// Forget clears eventID so a redelivery is handled again
func (r *EventRepository) Forget(ctx context.Context, eventID string) error {
	if err := r.client.SafeDel(ctx, "events:processed:"+eventID).Err(); err != nil {
		return fmt.Errorf("failed to clear processed event: %w", err)
	}
	return nil
}
