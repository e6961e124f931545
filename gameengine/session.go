package gameengine

import (
	"context"

	"github.com/quizarena/engine/domain"
)

// sessionActor is a single goroutine that owns all mutation for one
// session, guaranteeing the single-writer discipline spec.md §5
// requires: timer callbacks, bot answer callbacks, and client answer
// events all funnel through submit and execute one at a time, in
// arrival order. Grounded on tkahng-quick-sticks/broker.go's
// manageGameSession goroutine, generalized from "one goroutine per
// game, driven by a ticker" to "one goroutine per session, driven by a
// task channel" since this engine's work arrives as discrete events
// rather than a polling loop.
type sessionActor struct {
	sessionID string
	tasks     chan func()
	ctx       context.Context
	cancel    context.CancelFunc

	// participants is this session's roster, cached at actor creation
	// (or recovery) so handlers can tell bot from human without a
	// Session Store round trip on every answer. The Session Store
	// remains authoritative; this is a read-only snapshot.
	participants map[string]domain.Participant
}

func newSessionActor(sessionID string) *sessionActor {
	ctx, cancel := context.WithCancel(context.Background())
	a := &sessionActor{
		sessionID:    sessionID,
		tasks:        make(chan func(), 64),
		ctx:          ctx,
		cancel:       cancel,
		participants: make(map[string]domain.Participant),
	}
	go a.run()
	return a
}

func (a *sessionActor) setParticipants(participants []domain.Participant) {
	for _, p := range participants {
		a.participants[p.ID] = p
	}
}

func (a *sessionActor) humanParticipantIDs() []string {
	var out []string
	for id, p := range a.participants {
		if !p.IsBot {
			out = append(out, id)
		}
	}
	return out
}

func (a *sessionActor) run() {
	for {
		select {
		case fn := <-a.tasks:
			fn()
		case <-a.ctx.Done():
			return
		}
	}
}

// submit enqueues fn for serialized execution on this session's actor.
// It never blocks past the actor's lifetime: a submit after stop is a
// silent no-op, matching spec.md §9's requirement that bot/timer tasks
// scoped to a terminated session never deliver stray mutations.
func (a *sessionActor) submit(fn func()) {
	select {
	case a.tasks <- fn:
	case <-a.ctx.Done():
	}
}

func (a *sessionActor) stop() {
	a.cancel()
}
