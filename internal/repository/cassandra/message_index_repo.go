package cassandra

import (
	"context"
	"fmt"
	"time"

	"skillswap-backend/internal/database"
	"skillswap-backend/internal/domain"
)

const indexTable = "messages_by_user"

// MessageIndexSchema creates the flat per-user index, partitioned by user and
// month bucket
const MessageIndexSchema = `
CREATE TABLE IF NOT EXISTS messages_by_user (
	user_id      text,
	bucket       int,
	sent_at      timestamp,
	message_id   text,
	pair_id      text,
	sender_id    text,
	message_type text,
	preview      text,
	PRIMARY KEY ((user_id, bucket), sent_at, message_id)
) WITH CLUSTERING ORDER BY (sent_at DESC, message_id ASC)`

// MessageIndexRepository writes one index row per participant of every message
type MessageIndexRepository struct {
	db *database.CassandraDB
}

// NewMessageIndexRepository creates a new MessageIndexRepository
func NewMessageIndexRepository(db *database.CassandraDB) *MessageIndexRepository {
	return &MessageIndexRepository{db: db}
}

// Migrate creates the table when missing
func (r *MessageIndexRepository) Migrate(ctx context.Context) error {
	if err := r.db.QueryWithContext(ctx, MessageIndexSchema).Exec(); err != nil {
		return fmt.Errorf("failed to create %s: %w", indexTable, err)
	}
	return nil
}

// Index writes all entries in one batch
func (r *MessageIndexRepository) Index(ctx context.Context, entries []*domain.MessageIndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	stmt := `
		INSERT INTO messages_by_user (
			user_id, bucket, sent_at, message_id, pair_id, sender_id, message_type, preview
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if err := r.db.ExecBatch(ctx, "insert", indexTable, stmt, indexRows(entries)); err != nil {
		return fmt.Errorf("failed to index messages: %w", err)
	}
	return nil
}

func indexRows(entries []*domain.MessageIndexEntry) [][]interface{} {
	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		bucket := e.Bucket
		if bucket == 0 {
			bucket = domain.CalculateBucket(e.SentAt)
		}
		rows = append(rows, []interface{}{
			e.UserID, bucket, e.SentAt, e.MessageID, e.PairID, e.SenderID, string(e.Type), e.Preview,
		})
	}
	return rows
}

// Recent returns userID's newest entries in the bucket containing at
func (r *MessageIndexRepository) Recent(ctx context.Context, userID string, at time.Time, limit int) ([]*domain.MessageIndexEntry, error) {
	bucket := domain.CalculateBucket(at)
	query := `
		SELECT user_id, bucket, sent_at, message_id, pair_id, sender_id, message_type, preview
		FROM messages_by_user
		WHERE user_id = ? AND bucket = ?
		LIMIT ?
	`

	start := time.Now()
	iter := r.db.QueryWithContext(ctx, query, userID, bucket, limit).Iter()

	var entries []*domain.MessageIndexEntry
	var (
		e       domain.MessageIndexEntry
		msgType string
	)
	for iter.Scan(&e.UserID, &e.Bucket, &e.SentAt, &e.MessageID, &e.PairID, &e.SenderID, &msgType, &e.Preview) {
		entry := e
		entry.Type = domain.MessageType(msgType)
		entries = append(entries, &entry)
	}
	err := iter.Close()
	database.ObserveCassandra("select", indexTable, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to read message index: %w", err)
	}
	return entries, nil
}
