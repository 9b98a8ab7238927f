package notifier

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skillswap-backend/internal/domain"
	"skillswap-backend/internal/media"
	"skillswap-backend/internal/repository/memory"
	"skillswap-backend/internal/service/call"
)

var (
	alice = call.Participant{ID: "alice", Name: "Alice"}
	bob   = call.Participant{ID: "bob", Name: "Bob"}
	carol = call.Participant{ID: "carol", Name: "Carol"}
)

// Mocks
type MockSummaryPoster struct {
	mock.Mock
}

func (m *MockSummaryPoster) PostCallSummary(ctx context.Context, pairID, senderID, senderName string, summary domain.CallSummary) error {
	args := m.Called(ctx, pairID, senderID, senderName, summary)
	return args.Error(0)
}

type stubSession struct {
	once   sync.Once
	events chan media.Event
}

func (s *stubSession) Events() <-chan media.Event {
	return s.events
}

func (s *stubSession) SetMuted(m bool) (bool, error) {
	return m, nil
}

func (s *stubSession) SetCameraEnabled(e bool) (bool, error) {
	return e, nil
}

func (s *stubSession) SetSpeakerMuted(m bool) bool {
	return m
}

func (s *stubSession) SetScreenShare(e bool) (bool, error) {
	return e, nil
}

func (s *stubSession) State() media.State {
	return media.State{}
}

func (s *stubSession) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type stubOpener struct{}

func (stubOpener) OpenSession(ctx context.Context, opts media.OpenOptions) (call.MediaSession, error) {
	return &stubSession{events: make(chan media.Event, 4)}, nil
}

type fixture struct {
	repo     *memory.CallRepository
	manager  *call.Manager
	chat     *MockSummaryPoster
	notifier *Notifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	repo := memory.NewCallRepository()
	chat := new(MockSummaryPoster)
	mg := call.NewManager(ctx, call.ManagerConfig{
		Self:         bob,
		RingTimeout:  5 * time.Second,
		CleanupDelay: 10 * time.Millisecond,
		CloseDelay:   10 * time.Millisecond,
	}, call.Deps{Calls: repo, Media: stubOpener{}, Chat: chat})

	n := New(Config{Self: bob, CleanupDelay: 10 * time.Millisecond}, repo, mg, chat, nil)
	require.NoError(t, n.Arm(ctx))
	t.Cleanup(n.Disarm)

	return &fixture{repo: repo, manager: mg, chat: chat, notifier: n}
}

func (f *fixture) dial(t *testing.T, from call.Participant, callType domain.CallType) string {
	t.Helper()
	id, err := f.repo.Create(context.Background(),
		domain.NewCallRecord(from.ID, from.Name, bob.ID, bob.Name, callType, time.Now()))
	require.NoError(t, err)
	return id
}

func nextEvent(t *testing.T, n *Notifier) Event {
	t.Helper()
	select {
	case ev := <-n.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notifier event")
		return Event{}
	}
}

func assertQuiet(t *testing.T, n *Notifier) {
	t.Helper()
	select {
	case ev := <-n.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifier_ShowsAndDismisses(t *testing.T) {
	f := newFixture(t)

	// Execute
	id := f.dial(t, alice, domain.CallTypeAudio)

	// Assert
	ev := nextEvent(t, f.notifier)
	assert.Equal(t, EventRinging, ev.Kind)
	assert.Equal(t, id, ev.Call.CallID)
	assert.Equal(t, "Alice", ev.Call.FromName)
	assert.Equal(t, "alice_bob", ev.Call.PairID)
	assert.Len(t, f.notifier.Pending(), 1)

	_, err := f.repo.UpdateIfExists(context.Background(), id, domain.EndPatch(alice.ID, time.Now()))
	require.NoError(t, err)

	ev = nextEvent(t, f.notifier)
	assert.Equal(t, EventDismissed, ev.Kind)
	assert.Equal(t, id, ev.Call.CallID)
	assert.Empty(t, f.notifier.Pending())
}

func TestNotifier_DuplicateDialShowsOneOverlay(t *testing.T) {
	f := newFixture(t)

	first := f.dial(t, alice, domain.CallTypeAudio)
	assert.Equal(t, first, nextEvent(t, f.notifier).Call.CallID)

	// Execute
	second := f.dial(t, alice, domain.CallTypeAudio)

	// Assert
	assertQuiet(t, f.notifier)

	_, err := f.repo.DeleteIfExists(context.Background(), first)
	require.NoError(t, err)

	ev := nextEvent(t, f.notifier)
	assert.Equal(t, EventDismissed, ev.Kind)
	assert.Equal(t, first, ev.Call.CallID)
	ev = nextEvent(t, f.notifier)
	assert.Equal(t, EventRinging, ev.Kind)
	assert.Equal(t, second, ev.Call.CallID)
}

func TestNotifier_DifferentCallersShowSeparately(t *testing.T) {
	f := newFixture(t)

	// Execute
	f.dial(t, alice, domain.CallTypeAudio)
	f.dial(t, carol, domain.CallTypeAudio)

	// Assert
	assert.Equal(t, EventRinging, nextEvent(t, f.notifier).Kind)
	assert.Equal(t, EventRinging, nextEvent(t, f.notifier).Kind)
	assert.Len(t, f.notifier.Pending(), 2)
}

func TestNotifier_DeclineWithoutMachine(t *testing.T) {
	f := newFixture(t)
	id := f.dial(t, alice, domain.CallTypeVideo)
	nextEvent(t, f.notifier)

	// Setup expectations
	f.chat.On("PostCallSummary", mock.Anything, "alice_bob", "bob", "Bob", mock.MatchedBy(func(s domain.CallSummary) bool {
		return s.CallID == id &&
			s.Status == domain.CallStatusRejected &&
			s.Direction == domain.DirectionIncoming &&
			s.CallType == domain.CallTypeVideo &&
			s.Duration == nil
	})).Return(nil).Once()

	// Execute
	err := f.notifier.Decline(context.Background(), id)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, EventDismissed, nextEvent(t, f.notifier).Kind)
	f.chat.AssertExpectations(t)

	assert.Eventually(t, func() bool {
		_, err := f.repo.Get(context.Background(), id)
		return err != nil
	}, time.Second, 10*time.Millisecond, "record is deleted after the cleanup delay")
}

func TestNotifier_DeclineWritesDeclineFields(t *testing.T) {
	f := newFixture(t)
	f.notifier.cfg.CleanupDelay = time.Minute
	id := f.dial(t, alice, domain.CallTypeAudio)
	nextEvent(t, f.notifier)
	f.chat.On("PostCallSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// Execute
	require.NoError(t, f.notifier.Decline(context.Background(), id))

	// Assert
	rec, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, rec.Ended)
	assert.True(t, rec.Declined)
	assert.Equal(t, "bob", rec.EndedBy)
	assert.False(t, rec.Timeout)
}

func TestNotifier_AnswerHandsOffToMachine(t *testing.T) {
	f := newFixture(t)
	id := f.dial(t, alice, domain.CallTypeAudio)
	nextEvent(t, f.notifier)

	// Setup expectations
	f.chat.On("PostCallSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	// Execute
	m, err := f.notifier.Answer(context.Background(), id)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, id, m.Snapshot().CallID)
	assert.Eventually(t, func() bool {
		rec, err := f.repo.Get(context.Background(), id)
		return err == nil && rec.Answered
	}, time.Second, 10*time.Millisecond)

	got, ok := f.manager.Get("alice_bob")
	require.True(t, ok)
	assert.Same(t, m, got)
	assert.Equal(t, EventDismissed, nextEvent(t, f.notifier).Kind)
}

func TestNotifier_UnknownCall(t *testing.T) {
	f := newFixture(t)

	_, answerErr := f.notifier.Answer(context.Background(), "nope")
	declineErr := f.notifier.Decline(context.Background(), "nope")

	assert.Error(t, answerErr)
	assert.Error(t, declineErr)
}

func TestNotifier_DisarmDismisses(t *testing.T) {
	f := newFixture(t)
	f.dial(t, alice, domain.CallTypeAudio)
	nextEvent(t, f.notifier)

	// Execute
	f.notifier.Disarm()

	// Assert
	assert.False(t, f.notifier.Armed())
	assert.Equal(t, EventDismissed, nextEvent(t, f.notifier).Kind)
	assert.Empty(t, f.notifier.Pending())

	// Calls placed while disarmed raise nothing.
	f.dial(t, carol, domain.CallTypeAudio)
	assertQuiet(t, f.notifier)
}
