package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextEvent(t *testing.T, room Room) Event {
	t.Helper()
	select {
	case ev, ok := <-room.Events():
		require.True(t, ok, "events closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for room event")
	}
	return Event{}
}

func TestWSTransport_RosterAndDisconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	release := make(chan struct{})
	gotAuth := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// "amy" sorts before "zed", so zed waits for amy's offer and never negotiates here.
		conn.WriteJSON(SignalMessage{Type: SignalRoster, Participants: []string{"amy", "zed"}})
		conn.WriteJSON(SignalMessage{Type: SignalJoin, SenderID: "amy"})
		conn.WriteJSON(SignalMessage{Type: SignalLeave, SenderID: "amy"})
		<-release
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	room, err := NewWSTransport(nil).Connect(context.Background(), url, "room-token", ConnectOptions{Identity: "zed", AudioOnly: true})
	require.NoError(t, err)

	assert.Equal(t, "Bearer room-token", <-gotAuth)

	assert.Equal(t, EventConnected, nextEvent(t, room).Type)

	ev := nextEvent(t, room)
	assert.Equal(t, EventParticipantConnected, ev.Type)
	assert.Equal(t, "amy", ev.Participant)

	// The duplicate join is suppressed; the next event is the leave.
	ev = nextEvent(t, room)
	assert.Equal(t, EventParticipantDisconnected, ev.Type)
	assert.Equal(t, "amy", ev.Participant)

	close(release)

	ev = nextEvent(t, room)
	assert.Equal(t, EventDisconnected, ev.Type)

	require.NoError(t, room.Disconnect())
	_, ok := <-room.Events()
	assert.False(t, ok)
}

func TestWSTransport_AudioOnlyHasNoCamera(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	room, err := NewWSTransport(nil).Connect(context.Background(), url, "tok", ConnectOptions{Identity: "zed", AudioOnly: true})
	require.NoError(t, err)
	defer room.Disconnect()

	local := room.LocalParticipant()
	require.NoError(t, local.SetMicrophoneEnabled(true))
	assert.True(t, local.IsMicrophoneEnabled())

	assert.ErrorIs(t, local.SetCameraEnabled(true), ErrAudioOnly)
	assert.NoError(t, local.SetCameraEnabled(false))
	assert.False(t, local.IsCameraEnabled())
}

func TestWSTransport_DialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, err := NewWSTransport(nil).Connect(context.Background(), url, "bad", ConnectOptions{Identity: "zed"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
