// Package wsgateway is the Realtime Gateway (spec.md §4.5, §6): it
// terminates player WebSocket connections, fans out eventbus envelopes
// to whichever connections match their target, and accepts a narrow
// set of inbound control messages (room subscription, ping). The
// read/write goroutine split, egress channel, and ping-ticker pattern
// are adapted from websocket/websocket.go's Client/ServeWS, generalized
// from one anonymous connection per process to one identified by
// userID/participantID and a set of subscribed session ids (rooms) so
// that eventbus.Envelope.Matches can route to it.
package wsgateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	egressBuffer   = 32
)

// inboundMessage is the only shape the gateway accepts from a client.
// SubscribeRoom lets a connection that already knows a session id (from
// a start/lobby create/join HTTP response) receive that session's room
// broadcast events over its existing socket. The room a connection
// subscribes to is always a session id, never the human-shareable
// Group Play join code (spec.md glossary: "Room" is the set of sockets
// joined to a session id).
type inboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// outboundMessage is what every envelope is re-encoded as before being
// written to a client; Event mirrors gameengine's event-name vocabulary
// (spec.md §4.9) and Payload is passed through unmodified.
type outboundMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// connection is one authenticated player's live WebSocket. UserID is
// always set; ParticipantID is set once the owner starts a game or
// creates or joins a lobby (see Gateway.BindParticipant), and is empty
// before that.
type connection struct {
	conn          *websocket.Conn
	log           *slog.Logger
	egress        chan []byte
	userID        string
	participantID string

	mu    sync.RWMutex
	rooms map[string]struct{} // keyed by session id
}

func newConnection(conn *websocket.Conn, userID string, log *slog.Logger) *connection {
	return &connection{
		conn:   conn,
		log:    log,
		egress: make(chan []byte, egressBuffer),
		userID: userID,
		rooms:  make(map[string]struct{}),
	}
}

func (c *connection) setParticipantID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participantID = id
}

func (c *connection) identity() (userID, participantID string, rooms map[string]struct{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]struct{}, len(c.rooms))
	for r := range c.rooms {
		snapshot[r] = struct{}{}
	}
	return c.userID, c.participantID, snapshot
}

func (c *connection) subscribeRoom(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[sessionID] = struct{}{}
}

// send enqueues a pre-encoded frame for delivery; it never blocks the
// caller on a slow client, dropping the frame instead (spec.md §7 kind
// vi: a gateway write failure is infrastructure, not game state).
func (c *connection) send(b []byte) bool {
	select {
	case c.egress <- b:
		return true
	default:
		c.log.Warn("wsgateway: egress full, dropping frame", "user_id", c.userID)
		return false
	}
}

func (c *connection) close() {
	_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// writeLoop serially owns every write to the underlying connection:
// queued frames and the periodic ping share one goroutine so gorilla's
// one-writer-at-a-time requirement is never violated.
func (c *connection) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
			return
		case b, ok := <-c.egress:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.log.Debug("wsgateway: write failed, closing", "user_id", c.userID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop owns every read from the underlying connection, handling the
// small inbound control vocabulary and otherwise ignoring frames a
// client shouldn't be sending (game actions are HTTP, not WS - spec.md
// §6: the gateway is delivery-only, not a second action-submission path).
func (c *connection) readLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("wsgateway: read loop closed unexpectedly", "user_id", c.userID, "error", err)
			}
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "subscribe_room":
			if msg.SessionID != "" {
				c.subscribeRoom(msg.SessionID)
			}
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func encodeEnvelope(event string, payload json.RawMessage) ([]byte, error) {
	b, err := json.Marshal(outboundMessage{Event: event, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("wsgateway: encode outbound message: %w", err)
	}
	return b, nil
}
