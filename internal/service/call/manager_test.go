package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"skillswap-backend/internal/domain"
)

func newTestManager(t *testing.T, repo CallRepository, self Participant) (*Manager, *fakeOpener) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	chat := new(MockSummaryPoster)
	chat.On("PostCallSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	opener := &fakeOpener{}
	mg := NewManager(ctx, ManagerConfig{
		Self:         self,
		RingTimeout:  5 * time.Second,
		CleanupDelay: 10 * time.Millisecond,
		CloseDelay:   10 * time.Millisecond,
	}, Deps{Calls: repo, Media: opener, Chat: chat})
	return mg, opener
}

func TestManager_OpenReturnsSameMachine(t *testing.T) {
	mg, _ := newTestManager(t, newCountingRepo(), alice)

	// Execute
	first := mg.Open(bob, domain.CallTypeAudio)
	second := mg.Open(bob, domain.CallTypeAudio)

	// Assert
	assert.Same(t, first, second)
	got, ok := mg.Get("alice_bob")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.Len(t, mg.List(), 1)
	assert.Equal(t, alice, mg.Self())
}

func TestManager_OpenReplacesIdleMachineOfOtherType(t *testing.T) {
	mg, _ := newTestManager(t, newCountingRepo(), alice)

	// Execute
	audio := mg.Open(bob, domain.CallTypeAudio)
	video := mg.Open(bob, domain.CallTypeVideo)

	// Assert
	assert.NotSame(t, audio, video)
	assert.Equal(t, domain.CallTypeVideo, video.Snapshot().CallType)
	waitDone(t, audio)
	got, ok := mg.Get("alice_bob")
	require.True(t, ok)
	assert.Same(t, video, got)
}

func TestManager_FinishedMachineIsDropped(t *testing.T) {
	ctx := context.Background()
	mg, _ := newTestManager(t, newCountingRepo(), alice)
	m := mg.Open(bob, domain.CallTypeAudio)
	require.NoError(t, m.StartCall(ctx))

	// Execute
	require.NoError(t, m.EndCall(ctx))

	// Assert
	waitDone(t, m)
	_, ok := mg.Get("alice_bob")
	assert.False(t, ok)

	next := mg.Open(bob, domain.CallTypeAudio)
	assert.NotSame(t, m, next)
	assert.Equal(t, StateIdle, next.Snapshot().State)
}

func TestManager_CloseEndsActiveCall(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	mg, opener := newTestManager(t, repo, alice)
	m := mg.Open(bob, domain.CallTypeAudio)
	require.NoError(t, m.StartCall(ctx))

	// Execute
	err := mg.Close(ctx, "alice_bob")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, StateTerminated, m.Snapshot().State)
	assert.Empty(t, mg.List())
	assert.Eventually(t, func() bool { return opener.last().isClosed() }, waitFor, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(repo.terminalWritesBy("alice")) == 1 }, waitFor, 5*time.Millisecond)
}

func TestManager_CloseIdleAndUnknown(t *testing.T) {
	ctx := context.Background()
	mg, _ := newTestManager(t, newCountingRepo(), alice)
	m := mg.Open(bob, domain.CallTypeAudio)

	// Execute
	errIdle := mg.Close(ctx, "alice_bob")
	errUnknown := mg.Close(ctx, "alice_carol")

	// Assert
	assert.NoError(t, errIdle)
	assert.NoError(t, errUnknown)
	waitDone(t, m)
	assert.Empty(t, mg.List())
}

func TestManager_IncomingCallRingsOpenMachine(t *testing.T) {
	ctx := context.Background()
	repo := newCountingRepo()
	mg, _ := newTestManager(t, repo, bob)
	m := mg.Open(alice, domain.CallTypeAudio)

	// Execute
	_, err := repo.Create(ctx, domain.NewCallRecord("alice", "Alice", "bob", "Bob", domain.CallTypeVideo, time.Now()))
	require.NoError(t, err)

	// Assert
	snap := waitState(t, m, StateRinging)
	assert.Equal(t, domain.CallTypeVideo, snap.CallType)
	assert.Equal(t, StatusIncoming, snap.Status)
}

func TestManager_Shutdown(t *testing.T) {
	ctx := context.Background()
	mg, _ := newTestManager(t, newCountingRepo(), alice)
	a := mg.Open(bob, domain.CallTypeAudio)
	c := mg.Open(Participant{ID: "carol", Name: "Carol"}, domain.CallTypeAudio)
	require.NoError(t, a.StartCall(ctx))

	// Execute
	mg.Shutdown(ctx)

	// Assert
	waitDone(t, a)
	waitDone(t, c)
	assert.Empty(t, mg.List())
}
