package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"skillswap-backend/internal/domain"
	"skillswap-backend/pkg/logger"
)

// CallRepository keeps call records in the calls collection
type CallRepository struct {
	client *firestore.Client
}

// NewCallRepository creates a new CallRepository
func NewCallRepository(client *firestore.Client) *CallRepository {
	return &CallRepository{client: client}
}

func (r *CallRepository) doc(id string) *firestore.DocumentRef {
	return r.client.Collection(callsCollection).Doc(id)
}

// Create stores rec under a generated document id
func (r *CallRepository) Create(ctx context.Context, rec *domain.CallRecord) (string, error) {
	ref := r.client.Collection(callsCollection).NewDoc()
	if _, err := ref.Create(ctx, rec); err != nil {
		return "", wrap("failed to create call record", err)
	}
	return ref.ID, nil
}

// Get returns the record or domain.ErrCallNotFound
func (r *CallRepository) Get(ctx context.Context, id string) (*domain.CallRecord, error) {
	snap, err := r.doc(id).Get(ctx)
	if isNotFound(err) {
		return nil, domain.ErrCallNotFound
	}
	if err != nil {
		return nil, wrap("failed to get call record", err)
	}
	return decodeCall(snap)
}

func decodeCall(snap *firestore.DocumentSnapshot) (*domain.CallRecord, error) {
	rec := &domain.CallRecord{}
	if err := snap.DataTo(rec); err != nil {
		return nil, fmt.Errorf("failed to decode call record %s: %w", snap.Ref.ID, err)
	}
	rec.ID = snap.Ref.ID
	return rec, nil
}

func toUpdates(fields map[string]interface{}) []firestore.Update {
	updates := make([]firestore.Update, 0, len(fields))
	for path, v := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: v})
	}
	return updates
}

// endedDoc reports whether a stored call document already carries the
// terminal fields
func endedDoc(data map[string]interface{}) bool {
	ended, _ := data["ended"].(bool)
	return ended
}

// UpdateIfExists applies patch in a transaction that first checks the record
// still exists and has not ended
func (r *CallRepository) UpdateIfExists(ctx context.Context, id string, patch domain.CallPatch) (bool, error) {
	updates := toUpdates(patch.Fields())
	if len(updates) == 0 {
		return false, nil
	}

	ref := r.doc(id)
	applied := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if endedDoc(snap.Data()) {
			return nil
		}
		applied = true
		return tx.Update(ref, updates)
	})
	if err != nil {
		return false, wrap("failed to update call record", err)
	}
	return applied, nil
}

// DeleteIfExists deletes the record, reporting whether it existed
func (r *CallRepository) DeleteIfExists(ctx context.Context, id string) (bool, error) {
	ref := r.doc(id)
	deleted := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = false
		if _, err := tx.Get(ref); err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		deleted = true
		return tx.Delete(ref)
	})
	if err != nil {
		return false, wrap("failed to delete call record", err)
	}
	return deleted, nil
}

// Watch follows one document. The first snapshot is Added, or Removed when the
// document does not exist.
func (r *CallRepository) Watch(ctx context.Context, id string) (<-chan domain.CallChange, error) {
	it := r.doc(id).Snapshots(ctx)
	out := make(chan domain.CallChange, 16)

	go func() {
		defer close(out)
		defer it.Stop()

		exists := false
		for {
			snap, err := it.Next()
			if err != nil {
				if !stopped(ctx, err) && !errors.Is(err, iterator.Done) {
					send(ctx, out, domain.CallChange{ID: id, Err: wrap("call watch failed", err)})
				}
				return
			}

			c := domain.CallChange{ID: id}
			switch {
			case !snap.Exists():
				c.Kind = domain.ChangeRemoved
				exists = false
			default:
				rec, err := decodeCall(snap)
				if err != nil {
					logger.Warn("Skipping undecodable call snapshot", zap.String("call_id", id), zap.Error(err))
					continue
				}
				c.Kind, c.Record = domain.ChangeModified, rec
				if !exists {
					c.Kind = domain.ChangeAdded
				}
				exists = true
			}
			if !send(ctx, out, c) {
				return
			}
		}
	}()
	return out, nil
}

// WatchIncoming follows unanswered, unended records addressed to calleeID. A
// record leaving the query result is delivered as Removed.
func (r *CallRepository) WatchIncoming(ctx context.Context, calleeID string) (<-chan domain.CallChange, error) {
	q := r.client.Collection(callsCollection).
		Where("to", "==", calleeID).
		Where("answered", "==", false).
		Where("ended", "==", false)
	it := q.Snapshots(ctx)
	out := make(chan domain.CallChange, 16)

	go func() {
		defer close(out)
		defer it.Stop()

		for {
			qs, err := it.Next()
			if err != nil {
				if !stopped(ctx, err) && !errors.Is(err, iterator.Done) {
					send(ctx, out, domain.CallChange{Err: wrap("incoming call watch failed", err)})
				}
				return
			}

			for _, dc := range qs.Changes {
				c := domain.CallChange{ID: dc.Doc.Ref.ID, Kind: changeKind(dc.Kind)}
				if rec, err := decodeCall(dc.Doc); err == nil {
					c.Record = rec
				} else if c.Kind != domain.ChangeRemoved {
					logger.Warn("Skipping undecodable incoming call", zap.String("call_id", c.ID), zap.Error(err))
					continue
				}
				if !send(ctx, out, c) {
					return
				}
			}
		}
	}()
	return out, nil
}

func changeKind(k firestore.DocumentChangeKind) domain.ChangeKind {
	switch k {
	case firestore.DocumentAdded:
		return domain.ChangeAdded
	case firestore.DocumentRemoved:
		return domain.ChangeRemoved
	default:
		return domain.ChangeModified
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
