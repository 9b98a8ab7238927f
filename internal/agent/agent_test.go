package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/media"
	"skillswap-backend/internal/repository/memory"
	"skillswap-backend/internal/service/call"
	"skillswap-backend/internal/service/notifier"
	apperrors "skillswap-backend/pkg/errors"
)

const waitFor = 2 * time.Second

var (
	alice = call.Participant{ID: "alice", Name: "Alice"}
	bob   = call.Participant{ID: "bob", Name: "Bob"}
)

type noMedia struct{}

func (noMedia) OpenSession(ctx context.Context, opts media.OpenOptions) (call.MediaSession, error) {
	return nil, apperrors.ConfigurationError("no media in tests")
}

type sharedStores struct {
	calls    *memory.CallRepository
	chats    *memory.ChatStore
	presence *memory.PresenceRepository
}

func newSharedStores() *sharedStores {
	return &sharedStores{
		calls:    memory.NewCallRepository(),
		chats:    memory.NewChatStore(),
		presence: memory.NewPresenceRepository(),
	}
}

func startAgent(t *testing.T, s *sharedStores, self call.Participant) *Agent {
	t.Helper()
	a := New(context.Background(), Config{
		Self:            self,
		RingTimeout:     5 * time.Second,
		CleanupDelay:    10 * time.Millisecond,
		CloseDelay:      10 * time.Millisecond,
		PresenceRefresh: time.Minute,
	}, Stores{Calls: s.calls, Messages: s.chats, Presence: s.presence}, noMedia{}, nil)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		a.Shutdown(ctx)
	})
	return a
}

// next returns the first event of type typ, skipping others
func next(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event stream closed")
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	first, unsubFirst := b.Subscribe()
	second, unsubSecond := b.Subscribe()
	defer unsubSecond()

	b.Publish(Event{Type: EventTone, Tone: ToneIncoming})

	ev := <-first
	assert.Equal(t, ToneIncoming, ev.Tone)
	assert.False(t, ev.At.IsZero())
	assert.Equal(t, ToneIncoming, (<-second).Tone)

	unsubFirst()
	unsubFirst()
	_, open := <-first
	assert.False(t, open)

	// A full subscriber drops events instead of blocking the publisher.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Type: EventTone})
	}
	assert.Len(t, second, subscriberBuffer)
}

func TestStartCall_Validation(t *testing.T) {
	a := startAgent(t, newSharedStores(), alice)

	_, err := a.StartCall(context.Background(), alice, domain.CallTypeAudio)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = a.StartCall(context.Background(), bob, domain.CallType("hologram"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = a.Machine("alice_bob")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))
}

func TestAgent_UnreadFollowsPanel(t *testing.T) {
	stores := newSharedStores()
	a := startAgent(t, stores, alice)
	b := startAgent(t, stores, bob)
	pairID := domain.PairID(alice.ID, bob.ID)

	events, unsub := a.Subscribe()
	defer unsub()
	require.NoError(t, a.WatchChat(pairID))
	time.Sleep(5 * time.Millisecond)

	_, err := b.Chat.PostText(context.Background(), pairID, b.ChatSender(), "hi alice")
	require.NoError(t, err)

	chatEv := next(t, events, EventChat)
	assert.Equal(t, "hi alice", chatEv.Message.Content)
	unread := next(t, events, EventUnread)
	assert.Equal(t, 1, *unread.Unread)
	assert.Equal(t, 1, a.Unread(pairID))

	require.NoError(t, a.OpenChat(pairID))
	assert.Equal(t, 0, *next(t, events, EventUnread).Unread)

	// Own messages never count.
	_, err = a.Chat.PostText(context.Background(), pairID, a.ChatSender(), "hello bob")
	require.NoError(t, err)
	next(t, events, EventChat)
	assert.Equal(t, 0, a.Unread(pairID))
}

func TestAgent_OverlayAndRingtone(t *testing.T) {
	stores := newSharedStores()
	b := startAgent(t, stores, bob)

	events, unsub := b.Subscribe()
	defer unsub()
	require.NoError(t, b.Notifier.Arm(context.Background()))

	rec := domain.NewCallRecord(alice.ID, alice.Name, bob.ID, bob.Name, domain.CallTypeVideo, time.Now())
	id, err := stores.calls.Create(context.Background(), rec)
	require.NoError(t, err)

	// The tone is published directly; the overlay is relayed from the notifier.
	tone := next(t, events, EventTone)
	assert.Equal(t, ToneIncoming, tone.Tone)
	assert.Equal(t, "alice_bob", tone.PairID)
	overlay := next(t, events, EventOverlay)
	assert.Equal(t, notifier.EventRinging, overlay.Overlay.Kind)
	assert.Equal(t, id, overlay.Overlay.Call.CallID)
	assert.Equal(t, "Alice", overlay.Overlay.Call.FromName)

	require.NoError(t, b.Notifier.Decline(context.Background(), id))
	dismissed := next(t, events, EventOverlay)
	assert.Equal(t, notifier.EventDismissed, dismissed.Overlay.Kind)
}
