package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"skillswap-backend/internal/database"
	"skillswap-backend/internal/media"
	"skillswap-backend/pkg/constants"
	"skillswap-backend/pkg/jwt"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
	"skillswap-backend/pkg/response"
)

// RoomTokenVerifier validates room tokens presented by joining participants
type RoomTokenVerifier interface {
	Verify(tokenString string) (*jwt.RoomClaims, error)
}

// RoomHubConfig configures a RoomHub
type RoomHubConfig struct {
	MaxConnections int
	AllowedOrigins []string
}

// RoomHub relays signaling between the participants of media rooms. With a
// Redis client, rosters live in Redis and messages fan out to every hub
// instance over Pub/Sub.
type RoomHub struct {
	verifier RoomTokenVerifier
	redis    *database.RedisClient
	hubID    string

	mu    sync.RWMutex
	rooms map[string]*hubRoom

	upgrader  websocket.Upgrader
	semaphore chan struct{}
}

type hubRoom struct {
	clients map[*roomClient]bool
	cancel  context.CancelFunc
}

type roomClient struct {
	hub      *RoomHub
	conn     *websocket.Conn
	send     chan []byte
	room     string
	identity string
	name     string
	closed   bool
}

// fanoutEnvelope is the Pub/Sub payload; Origin lets a hub skip its own
// messages
type fanoutEnvelope struct {
	Origin  string              `json:"origin"`
	Message *media.SignalMessage `json:"message"`
}

func roomChannel(room string) string {
	return "rooms:" + room
}

func rosterKey(room string) string {
	return "rooms:" + room + ":members"
}

// NewRoomHub creates a hub. redis may be nil for a single instance.
func NewRoomHub(verifier RoomTokenVerifier, redis *database.RedisClient, cfg RoomHubConfig) *RoomHub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = constants.RoomHubMaxConnections
	}
	return &RoomHub{
		verifier: verifier,
		redis:    redis,
		hubID:    uuid.NewString(),
		rooms:    make(map[string]*hubRoom),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		semaphore: make(chan struct{}, cfg.MaxConnections),
	}
}

func (h *RoomHub) fanout() bool {
	return h.redis != nil && !h.redis.IsDegraded()
}

// ServeWS authenticates the room token and joins the connection to its room.
// Browsers that cannot set headers pass the token as ?token=.
func (h *RoomHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("Room connection rejected: max connections reached",
			zap.Int("max_connections", cap(h.semaphore)))
		response.Error(c, http.StatusServiceUnavailable, "HUB_AT_CAPACITY", "Server at capacity, please try again later")
		return
	}

	token := c.Query("token")
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		<-h.semaphore
		response.Unauthorized(c, "Invalid room token")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("Room WebSocket upgrade failed",
			zap.String("room", claims.Video.Room),
			zap.String("identity", claims.Subject),
			zap.Error(err))
		return
	}

	client := &roomClient{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, 256),
		room:     claims.Video.Room,
		identity: claims.Subject,
		name:     claims.Name,
	}
	h.register(client)

	go client.writePump()
	go func() {
		defer func() { <-h.semaphore }()
		client.readPump()
	}()
}

func (h *RoomHub) register(client *roomClient) {
	ctx := context.Background()
	roster := h.roster(ctx, client.room)

	h.mu.Lock()
	room, ok := h.rooms[client.room]
	if !ok {
		room = &hubRoom{clients: make(map[*roomClient]bool)}
		h.rooms[client.room] = room
		if h.fanout() {
			subCtx, cancel := context.WithCancel(context.Background())
			room.cancel = cancel
			go h.subscribe(subCtx, client.room)
		}
	}
	// A reconnect replaces the stale connection of the same identity
	for other := range room.clients {
		if other.identity == client.identity {
			h.dropLocked(room, other)
		}
	}
	room.clients[client] = true
	h.mu.Unlock()
	metrics.RoomParticipants.Inc()

	if h.redis != nil {
		if err := h.redis.SafeSAdd(ctx, rosterKey(client.room), client.identity).Err(); err != nil {
			logger.Warn("Failed to add room member", zap.String("room", client.room), zap.Error(err))
		}
	}

	others := make([]string, 0, len(roster))
	for _, id := range roster {
		if id != client.identity {
			others = append(others, id)
		}
	}
	client.deliver(&media.SignalMessage{Type: media.SignalRoster, Room: client.room, Participants: others, Timestamp: time.Now()})

	h.broadcast(&media.SignalMessage{
		Type:       media.SignalJoin,
		Room:       client.room,
		SenderID:   client.identity,
		SenderName: client.name,
		Timestamp:  time.Now(),
	})

	logger.Info("Participant joined room",
		zap.String("room", client.room),
		zap.String("identity", client.identity))
}

// roster lists the identities currently in room
func (h *RoomHub) roster(ctx context.Context, room string) []string {
	if h.fanout() {
		ids, err := h.redis.SafeSMembers(ctx, rosterKey(room)).Result()
		if err == nil {
			sort.Strings(ids)
			return ids
		}
		logger.Warn("Failed to read room roster, using local members", zap.String("room", room), zap.Error(err))
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	if r, ok := h.rooms[room]; ok {
		for c := range r.clients {
			ids = append(ids, c.identity)
		}
	}
	sort.Strings(ids)
	return ids
}

func (h *RoomHub) unregister(client *roomClient) {
	h.mu.Lock()
	room, ok := h.rooms[client.room]
	// A connection replaced by a reconnect was already dropped
	if !ok || !room.clients[client] {
		h.mu.Unlock()
		return
	}
	h.dropLocked(room, client)
	if len(room.clients) == 0 {
		if room.cancel != nil {
			room.cancel()
		}
		delete(h.rooms, client.room)
	}
	h.mu.Unlock()

	if h.redis != nil {
		h.redis.SafeSRem(context.Background(), rosterKey(client.room), client.identity)
	}
	h.broadcast(&media.SignalMessage{
		Type:      media.SignalLeave,
		Room:      client.room,
		SenderID:  client.identity,
		Timestamp: time.Now(),
	})
	logger.Info("Participant left room",
		zap.String("room", client.room),
		zap.String("identity", client.identity))
}

// dropLocked removes client from room and closes its send queue. h.mu must be
// held for writing.
func (h *RoomHub) dropLocked(room *hubRoom, client *roomClient) {
	if !room.clients[client] {
		return
	}
	delete(room.clients, client)
	if !client.closed {
		client.closed = true
		close(client.send)
	}
	metrics.RoomParticipants.Dec()
}

// broadcast delivers msg locally and, with fan-out, to the other hub instances
func (h *RoomHub) broadcast(msg *media.SignalMessage) {
	h.deliverLocal(msg)

	if !h.fanout() {
		return
	}
	payload, err := json.Marshal(fanoutEnvelope{Origin: h.hubID, Message: msg})
	if err != nil {
		return
	}
	if err := h.redis.SafePublish(context.Background(), roomChannel(msg.Room), payload).Err(); err != nil {
		logger.Warn("Failed to publish room signal", zap.String("room", msg.Room), zap.Error(err))
	}
}

// deliverLocal sends msg to TargetID, or to everyone but the sender
func (h *RoomHub) deliverLocal(msg *media.SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	var slow []*roomClient
	h.mu.RLock()
	if room, ok := h.rooms[msg.Room]; ok {
		for client := range room.clients {
			if msg.TargetID != "" && client.identity != msg.TargetID {
				continue
			}
			if msg.TargetID == "" && client.identity == msg.SenderID {
				continue
			}
			select {
			case client.send <- data:
			default:
				slow = append(slow, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		logger.Warn("Dropping slow room participant",
			zap.String("room", client.room),
			zap.String("identity", client.identity))
		client.conn.Close()
	}
}

func (h *RoomHub) subscribe(ctx context.Context, room string) {
	ps, err := h.redis.SafeSubscribe(ctx, roomChannel(room))
	if err != nil {
		logger.Error("Failed to subscribe to room channel", zap.String("room", room), zap.Error(err))
		return
	}
	defer ps.Close()

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var env fanoutEnvelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil || env.Message == nil {
				logger.Warn("Dropping malformed room signal", zap.String("room", room), zap.Error(err))
				continue
			}
			if env.Origin == h.hubID {
				continue
			}
			h.deliverLocal(env.Message)
		}
	}
}

// Participants returns the local identities joined to room
func (h *RoomHub) Participants(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	if r, ok := h.rooms[room]; ok {
		for c := range r.clients {
			ids = append(ids, c.identity)
		}
	}
	sort.Strings(ids)
	return ids
}

func (c *roomClient) deliver(msg *media.SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *roomClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Room connection closed",
					zap.String("room", c.room),
					zap.String("identity", c.identity),
					zap.Error(err))
			}
			return
		}

		var msg media.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.deliver(&media.SignalMessage{Type: media.SignalError, Message: "invalid message format", Timestamp: time.Now()})
			continue
		}
		if !msg.Relayed() {
			c.deliver(&media.SignalMessage{Type: media.SignalError, Message: "message type not relayed: " + msg.Type, Timestamp: time.Now()})
			continue
		}

		msg.Room = c.room
		msg.SenderID = c.identity
		msg.SenderName = c.name
		msg.Timestamp = time.Now()
		c.hub.broadcast(&msg)
	}
}

func (c *roomClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
