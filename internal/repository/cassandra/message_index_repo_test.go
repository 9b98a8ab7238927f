package cassandra

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap-backend/internal/database"
	"skillswap-backend/internal/domain"
)

func TestIndexRows_FillsBucket(t *testing.T) {
	sent := time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	entries := []*domain.MessageIndexEntry{
		{UserID: "alice", PairID: "alice_bob", MessageID: "m1", SenderID: "alice", Type: domain.MessageTypeText, Preview: "hi", SentAt: sent},
		{UserID: "bob", Bucket: 202601, PairID: "alice_bob", MessageID: "m1", SenderID: "alice", Type: domain.MessageTypeText, Preview: "hi", SentAt: sent},
	}

	rows := indexRows(entries)

	require.Len(t, rows, 2)
	assert.Equal(t, []interface{}{"alice", 202602, sent, "m1", "alice_bob", "alice", "text", "hi"}, rows[0])
	assert.Equal(t, 202601, rows[1][1])
}

func TestMessageIndexRepository_Cluster(t *testing.T) {
	hosts := os.Getenv("CASSANDRA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("CASSANDRA_TEST_HOSTS not set")
	}
	db, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    strings.Split(hosts, ","),
		Keyspace: "skillswap_test",
	})
	require.NoError(t, err)
	defer db.Close()

	repo := NewMessageIndexRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Migrate(ctx))

	user := "u-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.Index(ctx, []*domain.MessageIndexEntry{
		{UserID: user, PairID: "p", MessageID: "m1", SenderID: user, Type: domain.MessageTypeText, Preview: "first", SentAt: now.Add(-time.Second)},
		{UserID: user, PairID: "p", MessageID: "m2", SenderID: user, Type: domain.MessageTypeText, Preview: "second", SentAt: now},
	}))

	got, err := repo.Recent(ctx, user, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Preview)
}
