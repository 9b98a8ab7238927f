package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap-backend/internal/media"
	"skillswap-backend/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type hubFixture struct {
	server *httptest.Server
	signer *jwt.RoomTokenSigner
	hub    *RoomHub
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	signer := jwt.NewRoomTokenSigner("api-key", "api-secret", time.Minute)
	hub := NewRoomHub(signer, nil, RoomHubConfig{MaxConnections: 8})

	r := gin.New()
	r.GET("/v1/rooms/ws", hub.ServeWS)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &hubFixture{server: server, signer: signer, hub: hub}
}

func (f *hubFixture) join(t *testing.T, room, identity string) *websocket.Conn {
	t.Helper()
	token, err := f.signer.Mint(room, identity, strings.ToUpper(identity))
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/rooms/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSignal(t *testing.T, conn *websocket.Conn) media.SignalMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg media.SignalMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRoomHub_RosterJoinRelayLeave(t *testing.T) {
	f := newHubFixture(t)

	alice := f.join(t, "alice_bob", "alice")
	roster := readSignal(t, alice)
	assert.Equal(t, media.SignalRoster, roster.Type)
	assert.Empty(t, roster.Participants)

	bob := f.join(t, "alice_bob", "bob")
	roster = readSignal(t, bob)
	assert.Equal(t, []string{"alice"}, roster.Participants)

	joined := readSignal(t, alice)
	assert.Equal(t, media.SignalJoin, joined.Type)
	assert.Equal(t, "bob", joined.SenderID)
	assert.Equal(t, "BOB", joined.SenderName)

	// Sender fields are stamped by the hub
	require.NoError(t, bob.WriteJSON(media.SignalMessage{Type: media.SignalOffer, TargetID: "alice", SenderID: "mallory", SDP: "v=0"}))
	offer := readSignal(t, alice)
	assert.Equal(t, media.SignalOffer, offer.Type)
	assert.Equal(t, "bob", offer.SenderID)
	assert.Equal(t, "alice_bob", offer.Room)
	assert.Equal(t, "v=0", offer.SDP)

	require.NoError(t, bob.Close())
	left := readSignal(t, alice)
	assert.Equal(t, media.SignalLeave, left.Type)
	assert.Equal(t, "bob", left.SenderID)
}

func TestRoomHub_RoomsAreIsolated(t *testing.T) {
	f := newHubFixture(t)

	alice := f.join(t, "alice_bob", "alice")
	readSignal(t, alice)
	carol := f.join(t, "carol_dave", "carol")
	roster := readSignal(t, carol)
	assert.Empty(t, roster.Participants)

	require.NoError(t, carol.WriteJSON(media.SignalMessage{Type: media.SignalTrackState, Track: media.TrackNameMicrophone}))

	alice.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err, "alice must not see another room's traffic")
}

func TestRoomHub_RejectsUnrelayedTypes(t *testing.T) {
	f := newHubFixture(t)

	alice := f.join(t, "alice_bob", "alice")
	readSignal(t, alice)

	require.NoError(t, alice.WriteJSON(media.SignalMessage{Type: media.SignalJoin}))
	msg := readSignal(t, alice)

	assert.Equal(t, media.SignalError, msg.Type)
	assert.Contains(t, msg.Message, "not relayed")
}

func TestRoomHub_InvalidToken(t *testing.T) {
	f := newHubFixture(t)
	other := jwt.NewRoomTokenSigner("other-key", "other-secret", time.Minute)
	token, err := other.Mint("alice_bob", "alice", "Alice")
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/rooms/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, header)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoomHub_ReconnectReplacesConnection(t *testing.T) {
	f := newHubFixture(t)

	first := f.join(t, "alice_bob", "alice")
	readSignal(t, first)
	second := f.join(t, "alice_bob", "alice")
	readSignal(t, second)

	assert.Eventually(t, func() bool {
		return len(f.hub.Participants("alice_bob")) == 1
	}, time.Second, 10*time.Millisecond)
}
