package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"skillswap-backend/internal/database"
	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/logger"
)

// CallRecordTTL bounds how long an abandoned record survives in Redis
const CallRecordTTL = time.Hour

// maxTxRetries bounds optimistic transaction retries on concurrent writers
const maxTxRetries = 3

func callKey(id string) string { return "calls:" + id }
func calleeIndexKey(to string) string { return "calls:to:" + to }
func callChannel(id string) string { return "calls:" + id }
func incomingChannel(to string) string { return "calls:incoming:" + to }

// callMessage is the Pub/Sub payload announcing a record change
type callMessage struct {
	Kind   string             `json:"kind"`
	ID     string             `json:"id"`
	Record *domain.CallRecord `json:"record,omitempty"`
}

func encodeCallMessage(kind domain.ChangeKind, id string, rec *domain.CallRecord) ([]byte, error) {
	return json.Marshal(callMessage{Kind: kind.String(), ID: id, Record: rec})
}

func decodeCallMessage(payload string) (domain.CallChange, error) {
	var msg callMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return domain.CallChange{}, fmt.Errorf("failed to decode call message: %w", err)
	}
	c := domain.CallChange{ID: msg.ID, Record: msg.Record}
	switch msg.Kind {
	case domain.ChangeAdded.String():
		c.Kind = domain.ChangeAdded
	case domain.ChangeModified.String():
		c.Kind = domain.ChangeModified
	case domain.ChangeRemoved.String():
		c.Kind = domain.ChangeRemoved
	default:
		return domain.CallChange{}, fmt.Errorf("unknown change kind %q", msg.Kind)
	}
	if c.Record != nil {
		c.Record.ID = msg.ID
	}
	return c, nil
}

// CallRepository stores call records as JSON values and fans changes out over
// Pub/Sub
type CallRepository struct {
	client *database.RedisClient
}

// NewCallRepository creates a new CallRepository
func NewCallRepository(client *database.RedisClient) *CallRepository {
	return &CallRepository{client: client}
}

// Create stores rec under a new id
func (r *CallRepository) Create(ctx context.Context, rec *domain.CallRecord) (string, error) {
	id := uuid.NewString()
	stored := rec.Clone()
	stored.ID = id

	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("failed to encode call record: %w", err)
	}
	if err := r.client.SafeSet(ctx, callKey(id), data, CallRecordTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to create call record: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, calleeIndexKey(stored.To), id).Err(); err != nil {
		logger.Warn("Failed to index call record", zap.String("call_id", id), zap.Error(err))
	}

	r.publish(ctx, domain.ChangeAdded, id, stored)
	return id, nil
}

// Get returns the record or domain.ErrCallNotFound
func (r *CallRepository) Get(ctx context.Context, id string) (*domain.CallRecord, error) {
	data, err := r.client.SafeGet(ctx, callKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	return decodeRecord(id, data)
}

func decodeRecord(id string, data []byte) (*domain.CallRecord, error) {
	rec := &domain.CallRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode call record: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// UpdateIfExists applies patch inside a WATCH transaction. A missing or ended
// record is reported as not applied.
func (r *CallRepository) UpdateIfExists(ctx context.Context, id string, patch domain.CallPatch) (bool, error) {
	key := callKey(id)
	var updated *domain.CallRecord

	txf := func(tx *redis.Tx) error {
		updated = nil
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decodeRecord(id, data)
		if err != nil {
			return err
		}
		if rec.Ended {
			return nil
		}
		patch.Apply(rec)
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, out, redis.SetArgs{KeepTTL: true})
			if !rec.Pending() {
				pipe.SRem(ctx, calleeIndexKey(rec.To), id)
			}
			return nil
		})
		if err == nil {
			updated = rec
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.client.SafeWatch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to update call record: %w", err)
		}
		if updated == nil {
			return false, nil
		}
		r.publish(ctx, domain.ChangeModified, id, updated)
		return true, nil
	}
	return false, fmt.Errorf("failed to update call record %s: too many concurrent writers", id)
}

// DeleteIfExists removes the record, reporting whether it existed
func (r *CallRepository) DeleteIfExists(ctx context.Context, id string) (bool, error) {
	data, err := r.client.SafeGetDel(ctx, callKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete call record: %w", err)
	}

	rec, err := decodeRecord(id, data)
	if err != nil {
		logger.Warn("Deleted undecodable call record", zap.String("call_id", id), zap.Error(err))
		r.publishTo(ctx, callChannel(id), domain.ChangeRemoved, id, nil)
		return true, nil
	}
	r.client.SafeSRem(ctx, calleeIndexKey(rec.To), id)
	r.publish(ctx, domain.ChangeRemoved, id, rec)
	return true, nil
}

func (r *CallRepository) publish(ctx context.Context, kind domain.ChangeKind, id string, rec *domain.CallRecord) {
	r.publishTo(ctx, callChannel(id), kind, id, rec)
	if rec != nil {
		r.publishTo(ctx, incomingChannel(rec.To), kind, id, rec)
	}
}

func (r *CallRepository) publishTo(ctx context.Context, channel string, kind domain.ChangeKind, id string, rec *domain.CallRecord) {
	payload, err := encodeCallMessage(kind, id, rec)
	if err != nil {
		logger.Error("Failed to encode call change", zap.String("call_id", id), zap.Error(err))
		return
	}
	if err := r.client.SafePublish(ctx, channel, payload).Err(); err != nil {
		logger.Warn("Failed to publish call change",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

// Watch emits the current state of the record, then every change. The
// subscription is established before the initial read so no change is lost.
func (r *CallRepository) Watch(ctx context.Context, id string) (<-chan domain.CallChange, error) {
	ps, err := r.client.SafeSubscribe(ctx, callChannel(id))
	if err != nil {
		return nil, err
	}

	out := make(chan domain.CallChange, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		first := domain.CallChange{ID: id}
		rec, err := r.Get(ctx, id)
		switch {
		case err == nil:
			first.Kind, first.Record = domain.ChangeAdded, rec
		case errors.Is(err, domain.ErrCallNotFound):
			first.Kind = domain.ChangeRemoved
		default:
			first.Err = err
		}
		if !send(ctx, out, first) || first.Err != nil {
			return
		}

		r.forward(ctx, ps, out, func(c domain.CallChange) (domain.CallChange, bool) {
			return c, true
		})
	}()
	return out, nil
}

// WatchIncoming tracks pending records addressed to calleeID. A record leaving
// the pending set is reported as Removed.
func (r *CallRepository) WatchIncoming(ctx context.Context, calleeID string) (<-chan domain.CallChange, error) {
	ps, err := r.client.SafeSubscribe(ctx, incomingChannel(calleeID))
	if err != nil {
		return nil, err
	}

	out := make(chan domain.CallChange, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		known := make(map[string]bool)
		ids, err := r.client.SafeSMembers(ctx, calleeIndexKey(calleeID)).Result()
		if err != nil {
			send(ctx, out, domain.CallChange{Err: fmt.Errorf("failed to list incoming calls: %w", err)})
			return
		}
		for _, id := range ids {
			rec, err := r.Get(ctx, id)
			if errors.Is(err, domain.ErrCallNotFound) {
				r.client.SafeSRem(ctx, calleeIndexKey(calleeID), id)
				continue
			}
			if err != nil || !rec.Pending() {
				continue
			}
			known[id] = true
			if !send(ctx, out, domain.CallChange{Kind: domain.ChangeAdded, ID: id, Record: rec}) {
				return
			}
		}

		r.forward(ctx, ps, out, func(c domain.CallChange) (domain.CallChange, bool) {
			pending := c.Kind != domain.ChangeRemoved && c.Record != nil && c.Record.Pending()
			switch {
			case pending && !known[c.ID]:
				known[c.ID] = true
				c.Kind = domain.ChangeAdded
				return c, true
			case pending:
				return c, true
			case known[c.ID]:
				delete(known, c.ID)
				c.Kind = domain.ChangeRemoved
				return c, true
			}
			return c, false
		})
	}()
	return out, nil
}

func (r *CallRepository) forward(ctx context.Context, ps *redis.PubSub, out chan<- domain.CallChange, filter func(domain.CallChange) (domain.CallChange, bool)) {
	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				send(ctx, out, domain.CallChange{Err: errors.New("call subscription closed")})
				return
			}
			c, err := decodeCallMessage(m.Payload)
			if err != nil {
				logger.Warn("Dropping malformed call message", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			if c, ok := filter(c); ok && !send(ctx, out, c) {
				return
			}
		}
	}
}

func send(ctx context.Context, out chan<- domain.CallChange, c domain.CallChange) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
