package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"skillswap-backend/internal/domain"
)

// CallLogSchema creates the call_logs table
const CallLogSchema = `
CREATE TABLE IF NOT EXISTS call_logs (
	call_id          STRING PRIMARY KEY,
	caller_id        STRING NOT NULL,
	caller_name      STRING NOT NULL DEFAULT '',
	callee_id        STRING NOT NULL,
	callee_name      STRING NOT NULL DEFAULT '',
	call_type        STRING NOT NULL,
	outcome          STRING,
	duration_seconds INT,
	started_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ,
	INDEX call_logs_caller_idx (caller_id, started_at DESC),
	INDEX call_logs_callee_idx (callee_id, started_at DESC)
)`

// Querier is the subset of *pgxpool.Pool the repository uses
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// CallLogRepository keeps the durable call history
type CallLogRepository struct {
	db Querier
}

// NewCallLogRepository creates a new CallLogRepository
func NewCallLogRepository(db Querier) *CallLogRepository {
	return &CallLogRepository{db: db}
}

// Migrate creates the table when missing
func (r *CallLogRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, CallLogSchema); err != nil {
		return fmt.Errorf("failed to create call_logs: %w", err)
	}
	return nil
}

// Upsert inserts the row or fills in the columns log carries. Events may
// arrive out of order, so a started event never clears an outcome.
func (r *CallLogRepository) Upsert(ctx context.Context, log *domain.CallLog) error {
	query := `
		INSERT INTO call_logs (
			call_id, caller_id, caller_name, callee_id, callee_name,
			call_type, outcome, duration_seconds, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
		ON CONFLICT (call_id) DO UPDATE SET
			outcome          = COALESCE(excluded.outcome, call_logs.outcome),
			duration_seconds = COALESCE(excluded.duration_seconds, call_logs.duration_seconds),
			ended_at         = COALESCE(excluded.ended_at, call_logs.ended_at)
	`

	_, err := r.db.Exec(ctx, query,
		log.CallID,
		log.CallerID,
		log.CallerName,
		log.CalleeID,
		log.CalleeName,
		string(log.CallType),
		string(log.Outcome),
		log.DurationSeconds,
		log.StartedAt,
		log.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert call log: %w", err)
	}
	return nil
}

// History returns userID's calls, newest first, started before before
func (r *CallLogRepository) History(ctx context.Context, userID string, before time.Time, limit int) ([]*domain.CallLog, error) {
	query := `
		SELECT call_id, caller_id, caller_name, callee_id, callee_name,
		       call_type, COALESCE(outcome, ''), duration_seconds, started_at, ended_at
		FROM call_logs
		WHERE (caller_id = $1 OR callee_id = $1) AND started_at < $2
		ORDER BY started_at DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, userID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query call history: %w", err)
	}
	defer rows.Close()

	var logs []*domain.CallLog
	for rows.Next() {
		var (
			l        domain.CallLog
			callType string
			outcome  string
		)
		err := rows.Scan(
			&l.CallID,
			&l.CallerID,
			&l.CallerName,
			&l.CalleeID,
			&l.CalleeName,
			&callType,
			&outcome,
			&l.DurationSeconds,
			&l.StartedAt,
			&l.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call log: %w", err)
		}
		l.CallType = domain.CallType(callType)
		l.Outcome = domain.CallStatus(outcome)
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call history: %w", err)
	}
	return logs, nil
}
