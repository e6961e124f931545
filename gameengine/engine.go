// Package gameengine implements the Game Engine (C9): per-mode state
// machines operating over the Question Repository, Session Store,
// Live-State Store, Timer Service, Event Bus, Bot Agent and Rating
// Engine (spec.md §4.9). It owns the only mutator of LiveState.
//
// Every ACTIVE session is driven by exactly one goroutine-backed actor
// (spec.md §5, design note "Per-session actor" in spec.md §9) so that
// timer callbacks, bot answer callbacks and client answer events that
// converge on the same session are serialized without a lock. This is
// the direct descendant of tkahng-quick-sticks/broker.go's
// GameBroker/GameSession: one goroutine owns one live game and is
// retired when that game ends. There is no cap on how many sessions run
// at once and no periodic sweep of stale sessions. The matchmaking queue
// half of that file has no analog here — session creation is driven by explicit start
// calls (Quick Duel/Time Attack/Practice) or by the Lobby Controller's
// handoff, not by a waiting-player queue — so it is not carried over.
package gameengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/quizarena/engine/botagent"
	"github.com/quizarena/engine/domain"
	"github.com/quizarena/engine/questionrepo"
	"github.com/quizarena/engine/rating"
	"github.com/quizarena/engine/sessionstore"
	"github.com/quizarena/engine/timerqueue"
)

// Config mirrors the configuration surface of spec.md §6.
type Config struct {
	MatchingRatingBand        int
	MatchmakingTimeoutSeconds int
	FFFDefaultDurationMinutes int
	FFFMaxPerQuestionMs       int
	QuestionBatchSize         int
	CountdownSeconds          int
	KFactor                   int
	BotDefaultRating          int
	MaxConcurrentSessions     int
}

// DefaultConfig returns the defaults named in spec.md §6.
func DefaultConfig() Config {
	return Config{
		MatchingRatingBand:        200,
		MatchmakingTimeoutSeconds: 30,
		FFFDefaultDurationMinutes: 2,
		FFFMaxPerQuestionMs:       30000,
		QuestionBatchSize:         50,
		CountdownSeconds:          10,
		KFactor:                   32,
		BotDefaultRating:          1200,
		MaxConcurrentSessions:     5000,
	}
}

// SessionStore is the subset of sessionstore.Store the engine depends on.
type SessionStore interface {
	Create(ctx context.Context, p sessionstore.CreateParams) (*domain.Session, []domain.Participant, error)
	Activate(ctx context.Context, sessionID string) error
	Cancel(ctx context.Context, sessionID string) error
	End(ctx context.Context, sessionID string, finalScores map[string]int) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	ListActiveSessionIDs(ctx context.Context) ([]string, error)
	UpdateRatings(ctx context.Context, ratings map[string]int) error
}

// LiveStateStore is the subset of livestate.Store the engine depends on.
type LiveStateStore interface {
	Get(ctx context.Context, sessionID string) (*domain.LiveState, error)
	Set(ctx context.Context, state *domain.LiveState) error
	Delete(ctx context.Context, sessionID string) error
	ListActiveSessionIDs(ctx context.Context) ([]string, error)
	SetFFFTimerJobID(ctx context.Context, sessionID, jobID string) error
	FFFTimerJobID(ctx context.Context, sessionID string) (string, error)
	ClearFFFTimerJobID(ctx context.Context, sessionID string) error
	InvalidateLeaderboards(ctx context.Context, userIDs []string) error
}

// TimerDispatcher is the subset of timerqueue.Dispatcher the engine
// depends on.
type TimerDispatcher interface {
	Schedule(ctx context.Context, queue, jobID string, payload []byte, delay time.Duration) error
	Cancel(ctx context.Context, queue, jobID string) error
}

// EventBus is the subset of eventbus.Bus the engine depends on.
type EventBus interface {
	EmitToUsers(ctx context.Context, userIDs []string, event string, payload interface{}) error
	EmitToParticipants(ctx context.Context, participantIDs []string, event string, payload interface{}) error
	EmitToRoom(ctx context.Context, sessionID string, event string, payload interface{}) error
}

// GameTimerPayload is the payload shape on the game-timers queue
// (spec.md §4.4): questionId = "game-end" terminates the whole game;
// any other value terminates a single FFF question.
type GameTimerPayload struct {
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
}

const gameEndQuestionID = "game-end"

// jsonGameTimerPayload encodes a game-timers payload.
func jsonGameTimerPayload(sessionID, questionID string) ([]byte, error) {
	return json.Marshal(GameTimerPayload{SessionID: sessionID, QuestionID: questionID})
}

// fffAdvancePrefix marks a game-timers payload as the durable
// replacement for the FFF 1s/2s inter-question gap (spec.md §9,
// "the source's reliance on in-process setTimeout... a durable job
// with a short delay is the correct replacement"). The suffix is the
// question index the advance was scheduled for, so a duplicate or
// late delivery that no longer matches the session's current index is
// a no-op.
const fffAdvancePrefix = "advance:"

// fffAdvancer is implemented by FFF to receive fired advance jobs.
type fffAdvancer interface {
	Advance(ctx context.Context, e *Engine, state *domain.LiveState, forIndex int)
}

// Engine owns every active session's actor and dispatches answer/skip
// events and fired timers into the mode-specific handlers.
type Engine struct {
	cfg Config
	log *slog.Logger

	questions questionrepo.Source
	sessions  SessionStore
	live      LiveStateStore
	timers    TimerDispatcher
	bus       EventBus
	elo       *rating.Engine
	bots      *botagent.Agent

	mu      sync.Mutex
	actors  map[string]*sessionActor
	handler map[domain.Mode]modeHandler
}

// New builds an Engine wired to its collaborators.
func New(cfg Config, log *slog.Logger, questions questionrepo.Source, sessions SessionStore, live LiveStateStore, timers TimerDispatcher, bus EventBus) *Engine {
	e := &Engine{
		cfg:       cfg,
		log:       log,
		questions: questions,
		sessions:  sessions,
		live:      live,
		timers:    timers,
		bus:       bus,
		elo:       rating.NewWithK(cfg.KFactor),
		bots:      botagent.New(),
		actors:    make(map[string]*sessionActor),
	}
	e.handler = map[domain.Mode]modeHandler{
		domain.ModeQuickDuel:  quickDuelHandler{},
		domain.ModeFFF:        fffHandler{},
		domain.ModePractice:   practiceHandler{},
		domain.ModeTimeAttack: timeAttackHandler{},
		domain.ModeGroupPlay:  groupPlayHandler{},
	}
	return e
}

// HandleTimerJob processes one fired job from the game-timers queue,
// routed here by a timerqueue.Poll loop started at process boot.
func (e *Engine) HandleTimerJob(ctx context.Context, job timerqueue.Job) error {
	var payload GameTimerPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("gameengine: decode timer payload: %w", err)
	}

	actor := e.actorFor(payload.SessionID)
	actor.submit(func() {
		ctx := context.Background()
		switch {
		case payload.QuestionID == gameEndQuestionID:
			e.endGame(ctx, payload.SessionID)
		case strings.HasPrefix(payload.QuestionID, fffAdvancePrefix):
			idx, err := strconv.Atoi(strings.TrimPrefix(payload.QuestionID, fffAdvancePrefix))
			if err != nil {
				return
			}
			state, mode, ok := e.loadActive(ctx, payload.SessionID)
			if !ok {
				return
			}
			if advancer, ok := e.handler[mode].(fffAdvancer); ok {
				advancer.Advance(ctx, e, state, idx)
			}
		default:
			e.questionTimeout(ctx, payload.SessionID, payload.QuestionID)
		}
	})
	return nil
}

// HandleAnswer dispatches answer:submit to the owning session's actor.
// Unknown session or non-ACTIVE status are silently dropped inside the
// handler once state is loaded (spec.md §4.9).
func (e *Engine) HandleAnswer(sessionID, participantID, questionID, optionID string) {
	actor := e.actorFor(sessionID)
	actor.submit(func() {
		e.dispatchAnswer(context.Background(), sessionID, participantID, questionID, optionID)
	})
}

// HandleSkip dispatches question:skip to the owning session's actor.
func (e *Engine) HandleSkip(sessionID, participantID string) {
	actor := e.actorFor(sessionID)
	actor.submit(func() {
		e.dispatchSkip(context.Background(), sessionID, participantID)
	})
}

func (e *Engine) dispatchAnswer(ctx context.Context, sessionID, participantID, questionID, optionID string) {
	state, mode, ok := e.loadActive(ctx, sessionID)
	if !ok {
		return
	}
	h, ok := e.handler[mode]
	if !ok {
		return
	}
	h.OnAnswer(ctx, e, state, participantID, questionID, optionID)
}

func (e *Engine) dispatchSkip(ctx context.Context, sessionID, participantID string) {
	state, mode, ok := e.loadActive(ctx, sessionID)
	if !ok {
		return
	}
	h, ok := e.handler[mode]
	if !ok {
		return
	}
	h.OnSkip(ctx, e, state, participantID)
}

func (e *Engine) questionTimeout(ctx context.Context, sessionID, questionID string) {
	state, mode, ok := e.loadActive(ctx, sessionID)
	if !ok {
		return
	}
	h, ok := e.handler[mode]
	if !ok {
		return
	}
	h.OnQuestionTimeout(ctx, e, state, questionID)
}

// loadActive confirms the Session Store marks the session ACTIVE and
// loads its LiveState, returning ok=false on any not-found, non-ACTIVE
// or infrastructure condition (spec.md §7 kinds ii and vi).
func (e *Engine) loadActive(ctx context.Context, sessionID string) (*domain.LiveState, domain.Mode, bool) {
	session, err := e.sessions.Get(ctx, sessionID)
	if err != nil || session == nil || session.Status != domain.StatusActive {
		return nil, "", false
	}
	state, err := e.live.Get(ctx, sessionID)
	if err != nil {
		return nil, "", false
	}
	return state, state.Mode, true
}

func (e *Engine) actorFor(sessionID string) *sessionActor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.actors[sessionID]; ok {
		return a
	}
	a := newSessionActor(sessionID)
	e.actors[sessionID] = a
	return a
}

// participantOf looks up a cached participant record for a session,
// used by mode handlers to decide bot vs human behavior without a
// round trip to the Session Store.
func (e *Engine) participantOf(sessionID, participantID string) (domain.Participant, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actors[sessionID]
	if !ok {
		return domain.Participant{}, false
	}
	p, ok := a.participants[participantID]
	return p, ok
}

func (e *Engine) humanParticipants(sessionID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actors[sessionID]
	if !ok {
		return nil
	}
	return a.humanParticipantIDs()
}

func (e *Engine) allParticipants(sessionID string) []domain.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.actors[sessionID]
	if !ok {
		return nil
	}
	out := make([]domain.Participant, 0, len(a.participants))
	for _, p := range a.participants {
		out = append(out, p)
	}
	return out
}

func (e *Engine) retireActor(sessionID string) {
	e.mu.Lock()
	a, ok := e.actors[sessionID]
	delete(e.actors, sessionID)
	e.mu.Unlock()
	if ok {
		a.stop()
	}
}

// Run recovers any sessions left ACTIVE by a prior process and then
// blocks, draining the game-timers queue, until ctx is cancelled. The
// caller is expected to run this in its own goroutine at process boot;
// pollInterval controls how often the underlying timerqueue.Dispatcher
// is polled for due jobs.
func (e *Engine) Run(ctx context.Context, dispatcher *timerqueue.Dispatcher, pollInterval time.Duration) error {
	if err := e.RecoverActiveSessions(ctx); err != nil {
		return fmt.Errorf("gameengine: recover active sessions: %w", err)
	}
	timerqueue.Poll(ctx, dispatcher, timerqueue.QueueGameTimers, pollInterval, e.log, e.HandleTimerJob)
	return nil
}

// RecoverActiveSessions rebuilds the actor registry after a crash: it
// lists every session the Session Store still marks ACTIVE and, for
// those that still carry live state, spins up an actor for them. A
// session ACTIVE in C2 but with no corresponding live state (crashed
// before its first checkpoint) is cancelled immediately, since it has
// no recoverable progress.
func (e *Engine) RecoverActiveSessions(ctx context.Context) error {
	ids, err := e.sessions.ListActiveSessionIDs(ctx)
	if err != nil {
		return fmt.Errorf("gameengine: list active sessions: %w", err)
	}
	for _, id := range ids {
		if _, err := e.live.Get(ctx, id); err != nil {
			e.log.Warn("gameengine: active session has no live state, cancelling", "session_id", id)
			_ = e.sessions.Cancel(ctx, id)
			continue
		}
		actor := e.actorFor(id)
		participants, err := e.sessions.ListParticipants(ctx, id)
		if err != nil {
			e.log.Warn("gameengine: recover participants failed", "session_id", id, "error", err)
			continue
		}
		actor.setParticipants(participants)
	}
	return nil
}
