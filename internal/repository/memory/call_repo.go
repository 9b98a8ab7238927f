package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"skillswap-backend/internal/domain"
)

type callSubscriber struct {
	recordID string
	callee   string
	members  map[string]bool
	feed     *feed[domain.CallChange]
}

// CallRepository keeps call records in a map and fans changes out to watchers
type CallRepository struct {
	mu      sync.Mutex
	records map[string]*domain.CallRecord
	subs    map[*callSubscriber]struct{}
}

// NewCallRepository creates an empty repository
func NewCallRepository() *CallRepository {
	return &CallRepository{
		records: make(map[string]*domain.CallRecord),
		subs:    make(map[*callSubscriber]struct{}),
	}
}

// Create stores rec under a new id
func (r *CallRepository) Create(ctx context.Context, rec *domain.CallRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	stored := rec.Clone()
	stored.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[id] = stored
	r.notifyLocked(id, stored)
	return id, nil
}

// Get returns a copy of the record
func (r *CallRepository) Get(ctx context.Context, id string) (*domain.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrCallNotFound
	}
	return rec.Clone(), nil
}

// UpdateIfExists applies patch when the record exists and has not ended
func (r *CallRepository) UpdateIfExists(ctx context.Context, id string, patch domain.CallPatch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Ended {
		return false, nil
	}
	patch.Apply(rec)
	r.notifyLocked(id, rec)
	return true, nil
}

// DeleteIfExists removes the record when present
func (r *CallRepository) DeleteIfExists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return false, nil
	}
	delete(r.records, id)
	r.notifyLocked(id, nil)
	return true, nil
}

// Watch follows one record
func (r *CallRepository) Watch(ctx context.Context, id string) (<-chan domain.CallChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &callSubscriber{recordID: id}
	sub.feed = newFeed[domain.CallChange](ctx, func() { r.unsubscribe(sub) })

	if rec, ok := r.records[id]; ok {
		sub.feed.push(domain.CallChange{Kind: domain.ChangeAdded, ID: id, Record: rec.Clone()})
	} else {
		sub.feed.push(domain.CallChange{Kind: domain.ChangeRemoved, ID: id})
	}
	r.subs[sub] = struct{}{}
	return sub.feed.out, nil
}

// WatchIncoming follows pending records addressed to calleeID
func (r *CallRepository) WatchIncoming(ctx context.Context, calleeID string) (<-chan domain.CallChange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &callSubscriber{callee: calleeID, members: make(map[string]bool)}
	sub.feed = newFeed[domain.CallChange](ctx, func() { r.unsubscribe(sub) })

	var pending []*domain.CallRecord
	for _, rec := range r.records {
		if rec.To == calleeID && rec.Pending() {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	for _, rec := range pending {
		sub.members[rec.ID] = true
		sub.feed.push(domain.CallChange{Kind: domain.ChangeAdded, ID: rec.ID, Record: rec.Clone()})
	}

	r.subs[sub] = struct{}{}
	return sub.feed.out, nil
}

func (r *CallRepository) unsubscribe(sub *callSubscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, sub)
}

// notifyLocked fans a change out. rec is nil after a delete.
func (r *CallRepository) notifyLocked(id string, rec *domain.CallRecord) {
	for sub := range r.subs {
		if sub.recordID != "" {
			if sub.recordID != id {
				continue
			}
			if rec == nil {
				sub.feed.push(domain.CallChange{Kind: domain.ChangeRemoved, ID: id})
			} else {
				sub.feed.push(domain.CallChange{Kind: domain.ChangeModified, ID: id, Record: rec.Clone()})
			}
			continue
		}

		inSet := rec != nil && rec.To == sub.callee && rec.Pending()
		was := sub.members[id]
		switch {
		case inSet && !was:
			sub.members[id] = true
			sub.feed.push(domain.CallChange{Kind: domain.ChangeAdded, ID: id, Record: rec.Clone()})
		case inSet && was:
			sub.feed.push(domain.CallChange{Kind: domain.ChangeModified, ID: id, Record: rec.Clone()})
		case !inSet && was:
			delete(sub.members, id)
			change := domain.CallChange{Kind: domain.ChangeRemoved, ID: id}
			if rec != nil {
				change.Record = rec.Clone()
			}
			sub.feed.push(change)
		}
	}
}

// Len reports how many records exist
func (r *CallRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
