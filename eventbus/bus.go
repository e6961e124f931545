// Package eventbus implements the Event Bus (C5): fan-out of game
// events from whichever process owns a session's goroutine to whatever
// process holds the recipient's WebSocket connection (spec.md §4.5).
// Backed by redis/go-redis/v9 pub/sub, the same pairing used by
// gokatarajesh/quiz-platform and dinhkhaphancs/real-time-quiz-backend
// for cross-instance quiz event delivery.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// TargetKind selects how Envelope.IDs is interpreted.
type TargetKind string

const (
	TargetUsers        TargetKind = "users"
	TargetParticipants TargetKind = "participants"
	TargetRoom         TargetKind = "room"
)

// channelName is the single Redis pub/sub channel every gateway
// instance subscribes to; routing happens in-process from Envelope.Target
// so that participant/room/user addressing doesn't require one Redis
// channel per session.
const channelName = "quizarena:events"

// Envelope is the wire format published on the bus.
type Envelope struct {
	Target  TargetKind      `json:"target"`
	IDs     []string        `json:"ids"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Bus publishes and subscribes to game event envelopes.
type Bus struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

func (b *Bus) publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("eventbus: encode envelope: %w", err)
	}
	if err := b.rdb.Publish(ctx, channelName, raw).Err(); err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

// EmitToUsers delivers event/payload to every connection belonging to
// the given user ids.
func (b *Bus) EmitToUsers(ctx context.Context, userIDs []string, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: encode payload: %w", err)
	}
	return b.publish(ctx, Envelope{Target: TargetUsers, IDs: userIDs, Event: event, Payload: raw})
}

// EmitToParticipants delivers event/payload to every connection whose
// participant id is in the given list (used when the caller has
// participant identity rather than user identity, e.g. a bot-inclusive
// session where only humans have connections).
func (b *Bus) EmitToParticipants(ctx context.Context, participantIDs []string, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: encode payload: %w", err)
	}
	return b.publish(ctx, Envelope{Target: TargetParticipants, IDs: participantIDs, Event: event, Payload: raw})
}

// EmitToRoom delivers event/payload to every connection subscribed to a
// session's room, including spectating not-yet-active lobby members.
// The room a connection joins is always keyed by session id (spec.md
// glossary: "Room" is the set of sockets joined to a session id), never
// a Group Play lobby's human-shareable join code.
func (b *Bus) EmitToRoom(ctx context.Context, sessionID string, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: encode payload: %w", err)
	}
	return b.publish(ctx, Envelope{Target: TargetRoom, IDs: []string{sessionID}, Event: event, Payload: raw})
}

// Subscribe opens a subscription to the shared event channel. The
// returned PubSub must be closed by the caller. Per-target ordering is
// preserved because every envelope a gateway cares about traverses the
// same single Redis channel and pub/sub delivery within one channel is
// FIFO per publisher connection.
func (b *Bus) Subscribe(ctx context.Context) *redis.PubSub {
	return b.rdb.Subscribe(ctx, channelName)
}

// Decode parses a raw pub/sub message payload into an Envelope.
func Decode(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, fmt.Errorf("eventbus: decode envelope: %w", err)
	}
	return env, nil
}

// Matches reports whether the envelope targets the given connection
// identity (userID and participantID may be "" if the connection
// doesn't have that identity; sessionIDs is the set of session-id rooms
// the connection is currently subscribed to).
func (env Envelope) Matches(userID, participantID string, sessionIDs map[string]struct{}) bool {
	switch env.Target {
	case TargetUsers:
		return contains(env.IDs, userID)
	case TargetParticipants:
		return contains(env.IDs, participantID)
	case TargetRoom:
		for _, id := range env.IDs {
			if _, ok := sessionIDs[id]; ok {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
