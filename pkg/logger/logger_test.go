package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_AddsTaggedFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := Log
	Log = zap.New(core)
	defer func() { Log = prev }()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "alice")
	ctx = WithPairID(ctx, "alice_bob")

	FromContext(ctx).Info("answered")
	FromContext(context.Background()).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]interface{}{
		"request_id": "req-1",
		"user_id":    "alice",
		"pair_id":    "alice_bob",
	}, entries[0].ContextMap())
	assert.Empty(t, entries[1].Context)
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	prev := Log
	defer func() { Log = prev }()

	require.NoError(t, Init(&Config{Level: "verbose", Format: "json", Service: "test"}))
	assert.False(t, Log.Core().Enabled(zap.DebugLevel))
	assert.True(t, Log.Core().Enabled(zap.InfoLevel))
}
