package database

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRedisClient_DegradedStreamReads(t *testing.T) {
	ctx := context.Background()
	// No live client: degraded calls must answer without touching it.
	r := &RedisClient{degradedMode: true}

	// Execute
	revRange := r.SafeXRevRangeN(ctx, "chat:alice_bob", "+", "-", 10)
	read := r.SafeXRead(ctx, &redis.XReadArgs{Streams: []string{"chat:alice_bob", "$"}})
	members := r.SafeSMembers(ctx, "calls:incoming:bob")

	// Assert
	msgs, err := revRange.Result()
	assert.ErrorIs(t, err, ErrRedisDegraded)
	assert.Empty(t, msgs)
	assert.ErrorIs(t, read.Err(), ErrRedisDegraded)
	assert.ErrorIs(t, members.Err(), ErrRedisDegraded)
}
