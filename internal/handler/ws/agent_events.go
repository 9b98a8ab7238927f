package ws

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"skillswap-backend/internal/agent"
	"skillswap-backend/internal/service/call"
	"skillswap-backend/pkg/constants"
	"skillswap-backend/pkg/logger"
	"skillswap-backend/pkg/metrics"
)

// EventSource is the agent as seen by the event stream
type EventSource interface {
	Subscribe() (<-chan agent.Event, func())
}

// CallLister lists the calls a fresh connection should see first
type CallLister interface {
	List() []call.Snapshot
}

// EventStream pushes agent events to UI clients over WebSocket
type EventStream struct {
	source   EventSource
	calls    CallLister
	upgrader websocket.Upgrader
}

// NewEventStream creates an event stream. calls may be nil.
func NewEventStream(source EventSource, calls CallLister, allowedOrigins []string) *EventStream {
	return &EventStream{
		source: source,
		calls:  calls,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// ServeWS streams events until the client disconnects or the agent stops
// GET /v1/events
func (s *EventStream) ServeWS(c *gin.Context) {
	// Subscribe before upgrading so nothing published in between is lost.
	events, unsubscribe := s.source.Subscribe()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		logger.Warn("Event stream upgrade failed", zap.Error(err))
		return
	}

	metrics.AgentEventStreamsActive.Inc()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		discardReads(conn)
	}()

	go func() {
		defer metrics.AgentEventStreamsActive.Dec()
		defer unsubscribe()
		s.writePump(conn, events, closed)
	}()
}

// discardReads keeps the pong deadline moving; clients send nothing else
func discardReads(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Event stream closed", zap.Error(err))
			}
			return
		}
	}
}

func (s *EventStream) writePump(conn *websocket.Conn, events <-chan agent.Event, closed <-chan struct{}) {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	if s.calls != nil {
		for _, snap := range s.calls.List() {
			snap := snap
			if !writeEvent(conn, agent.Event{Type: agent.EventCall, PairID: snap.PairID, Call: &snap, At: time.Now()}) {
				return
			}
		}
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "agent stopped"))
				return
			}
			if !writeEvent(conn, ev) {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev agent.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Failed to encode agent event", zap.String("type", string(ev.Type)), zap.Error(err))
		return true
	}
	conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
	return conn.WriteMessage(websocket.TextMessage, data) == nil
}
