package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"skillswap-backend/internal/domain"
)

func TestUnreadCounter(t *testing.T) {
	start := time.Now()
	u := NewUnreadCounter("alice", start)
	msg := func(id, from string, at time.Duration) *domain.ChatMessage {
		return &domain.ChatMessage{ID: id, SenderID: from, Timestamp: start.Add(at)}
	}

	assert.Equal(t, 0, u.Observe(msg("old", "bob", -time.Minute)), "older than the cursor")
	assert.Equal(t, 0, u.Observe(msg("mine", "alice", time.Second)), "own message")
	assert.Equal(t, 1, u.Observe(msg("m1", "bob", time.Second)))
	assert.Equal(t, 1, u.Observe(msg("m1", "bob", time.Second)), "duplicate delivery")
	assert.Equal(t, 2, u.Observe(msg("m2", "bob", 2*time.Second)))

	u.Open(start.Add(3 * time.Second))
	assert.Equal(t, 0, u.Count())
	assert.Equal(t, 0, u.Observe(msg("m3", "bob", 4*time.Second)), "panel open")

	u.Close(start.Add(5 * time.Second))
	assert.Equal(t, 0, u.Observe(msg("m3", "bob", 4*time.Second)), "read while open")
	assert.Equal(t, 1, u.Observe(msg("m4", "bob", 6*time.Second)))
	assert.Equal(t, 1, u.Count())
}
