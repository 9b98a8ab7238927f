package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomName_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"uid-9", "uid-10"},
		{"Zed", "adam"},
		{"same", "same"},
	}

	for _, p := range pairs {
		assert.Equal(t, RoomName(p[0], p[1]), RoomName(p[1], p[0]), "pair %v", p)
	}
	assert.Equal(t, "alice_bob", RoomName("bob", "alice"))
	assert.Equal(t, PairID("bob", "alice"), RoomName("alice", "bob"))
}

func TestCallDuration(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		answered *time.Time
		ended    *time.Time
		want     *int
	}{
		{"never answered", nil, ptr(t0), nil},
		{"ten seconds", ptr(t0), ptr(t0.Add(10 * time.Second)), intPtr(10)},
		{"sub-second truncates", ptr(t0), ptr(t0.Add(1900 * time.Millisecond)), intPtr(1)},
		{"clock skew clamps", ptr(t0), ptr(t0.Add(-3 * time.Second)), intPtr(0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CallDuration(tt.answered, tt.ended)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestCallPatch_FieldsAndApply(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rec := NewCallRecord("alice", "Alice", "bob", "Bob", CallTypeAudio, now)

	assert.True(t, rec.Pending())
	assert.Equal(t, "alice_bob", rec.RoomName)

	decline := DeclinePatch("bob", now)
	fields := decline.Fields()
	assert.Equal(t, true, fields["ended"])
	assert.Equal(t, true, fields["declined"])
	assert.Equal(t, "bob", fields["endedBy"])
	assert.NotContains(t, fields, "answered")
	assert.NotContains(t, fields, "timeout")

	decline.Apply(rec)
	assert.True(t, rec.Ended)
	assert.True(t, rec.Declined)
	assert.False(t, rec.Timeout)
	assert.False(t, rec.Pending())
	assert.Equal(t, "alice", rec.Peer("bob"))
}

func TestCallRecord_Clone(t *testing.T) {
	now := time.Now()
	rec := NewCallRecord("alice", "Alice", "bob", "Bob", CallTypeVideo, now)
	AnswerPatch(now).Apply(rec)

	c := rec.Clone()
	*c.AnsweredAt = now.Add(time.Hour)

	assert.NotEqual(t, *rec.AnsweredAt, *c.AnsweredAt)
}

func TestLogFromEvent(t *testing.T) {
	now := time.Now()
	ev := &CallEvent{Type: EventCallEnded, CallID: "c1", Outcome: CallStatusMissed, OccurredAt: now}

	log := LogFromEvent(ev)

	assert.Equal(t, "c1", log.CallID)
	require.NotNil(t, log.EndedAt)
	assert.Equal(t, now, *log.EndedAt)

	started := LogFromEvent(&CallEvent{Type: EventCallStarted, CallID: "c2"})
	assert.Nil(t, started.EndedAt)
}

func TestSplitPairID(t *testing.T) {
	a, b, ok := SplitPairID(PairID("bob", "alice"))
	assert.True(t, ok)
	assert.Equal(t, "alice", a)
	assert.Equal(t, "bob", b)

	for _, bad := range []string{"", "alice", "_bob", "alice_", "a_b_c"} {
		_, _, ok := SplitPairID(bad)
		assert.False(t, ok, bad)
	}
}

func TestChatMessage_Preview(t *testing.T) {
	assert.Equal(t, "hi", (&ChatMessage{Type: MessageTypeText, Content: "hi"}).Preview())
	assert.Equal(t, "📎 notes.pdf", (&ChatMessage{Type: MessageTypeFile, FileName: "notes.pdf"}).Preview())
	assert.Equal(t, "📹 Video call", (&ChatMessage{Type: CallMessageType(CallTypeVideo)}).Preview())
	assert.Equal(t, MessageTypeImage, AttachmentMessageType(ResourceTypeFor("image/png")))
	assert.Equal(t, MessageTypeFile, AttachmentMessageType(ResourceTypeFor("application/pdf")))
}

func ptr(t time.Time) *time.Time { return &t }

func intPtr(i int) *int { return &i }
