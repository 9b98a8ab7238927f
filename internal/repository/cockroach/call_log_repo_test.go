package cockroach

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap-backend/internal/domain"
)

// testPool connects to COCKROACH_TEST_URL, skipping when it is unset
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("COCKROACH_TEST_URL")
	if url == "" {
		t.Skip("COCKROACH_TEST_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestCallLogRepository_OutOfOrderEvents(t *testing.T) {
	pool := testPool(t)
	repo := NewCallLogRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.Migrate(ctx))

	caller := "caller-" + uuid.NewString()
	started := time.Now().UTC().Truncate(time.Millisecond)
	ended := &domain.CallEvent{
		Type:            domain.EventCallEnded,
		CallID:          uuid.NewString(),
		CallerID:        caller,
		CalleeID:        "callee",
		CallType:        domain.CallTypeAudio,
		Outcome:         domain.CallStatusCompleted,
		DurationSeconds: intPtr(42),
		StartedAt:       started,
		OccurredAt:      started.Add(42 * time.Second),
	}
	start := *ended
	start.Type, start.Outcome, start.DurationSeconds = domain.EventCallStarted, "", nil

	// Ended arrives first
	require.NoError(t, repo.Upsert(ctx, domain.LogFromEvent(ended)))
	require.NoError(t, repo.Upsert(ctx, domain.LogFromEvent(&start)))

	logs, err := repo.History(ctx, caller, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.CallStatusCompleted, logs[0].Outcome)
	require.NotNil(t, logs[0].DurationSeconds)
	assert.Equal(t, 42, *logs[0].DurationSeconds)
	assert.NotNil(t, logs[0].EndedAt)
}

func TestCallLogRepository_HistoryPaging(t *testing.T) {
	pool := testPool(t)
	repo := NewCallLogRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.Migrate(ctx))

	user := "user-" + uuid.NewString()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Upsert(ctx, &domain.CallLog{
			CallID:    uuid.NewString(),
			CallerID:  user,
			CalleeID:  "peer",
			CallType:  domain.CallTypeVideo,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := repo.History(ctx, user, time.Now(), 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].StartedAt.After(page[1].StartedAt))

	rest, err := repo.History(ctx, user, page[1].StartedAt, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, base, rest[0].StartedAt.UTC())
}

func intPtr(v int) *int {
	return &v
}
