package wsgateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/quizarena/engine/eventbus"
)

// Gateway owns the set of live connections for one process and fans
// eventbus envelopes out to whichever of them match. A single RWMutex
// guards the connection set: ServeWS and unregister take the write lock
// to add or remove a connection, while envelope delivery (which only
// reads the set) takes the read lock.
type Gateway struct {
	bus *eventbus.Bus
	log *slog.Logger

	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[*connection]context.CancelFunc
}

func New(bus *eventbus.Bus, log *slog.Logger, allowedOrigins []string) *Gateway {
	return &Gateway{
		bus:         bus,
		log:         log,
		connections: make(map[*connection]context.CancelFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ServeWS upgrades the request to a WebSocket and registers the
// resulting connection under userID, which the caller has already
// authenticated (spec.md §6: the gateway trusts upstream auth, it does
// not itself verify credentials).
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("wsgateway: upgrade failed", "error", err)
		return
	}

	c := newConnection(conn, userID, g.log)
	ctx, cancel := context.WithCancel(context.Background())

	g.mu.Lock()
	g.connections[c] = cancel
	g.mu.Unlock()

	go func() {
		c.writeLoop(ctx)
	}()
	go func() {
		c.readLoop(ctx, cancel)
		g.unregister(c)
	}()
}

func (g *Gateway) unregister(c *connection) {
	g.mu.Lock()
	cancel, ok := g.connections[c]
	if ok {
		delete(g.connections, c)
	}
	g.mu.Unlock()
	if ok {
		cancel()
		c.close()
	}
}

// BindParticipant attaches a participant identity to every connection
// belonging to userID, so subsequent eventbus.TargetParticipants
// envelopes reach it. gatewayserver calls it whenever its owner starts
// a game or creates or joins a lobby over the HTTP API.
func (g *Gateway) BindParticipant(userID, participantID string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.connections {
		if c.userID == userID {
			c.setParticipantID(participantID)
		}
	}
}

// Run subscribes to the event bus and fans out every envelope to
// matching connections until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	sub := g.bus.Subscribe(ctx)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := eventbus.Decode(msg.Payload)
			if err != nil {
				g.log.Warn("wsgateway: dropping undecodable envelope", "error", err)
				continue
			}
			g.deliver(env)
		}
	}
}

func (g *Gateway) deliver(env eventbus.Envelope) {
	frame, err := encodeEnvelope(env.Event, env.Payload)
	if err != nil {
		g.log.Warn("wsgateway: encode failed", "event", env.Event, "error", err)
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	for c := range g.connections {
		userID, participantID, rooms := c.identity()
		if env.Matches(userID, participantID, rooms) {
			c.send(frame)
		}
	}
}

// ConnectionCount reports the number of live connections, surfaced on
// the health/stats endpoint (grounded on server/server.go's handleStats).
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}
