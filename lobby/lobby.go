// Package lobby implements the Lobby Controller (C8): the pre-game
// state machine for GROUP_PLAY sessions (spec.md §4.8). A lobby is a
// Session in status LOBBY or READY_COUNTDOWN plus its Participant
// rows; there is no separate lobby record, matching the "lobby
// projection... never stored separately" note in spec.md's glossary.
package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/quizarena/engine/domain"
	"github.com/quizarena/engine/sessionstore"
	"github.com/quizarena/engine/timerqueue"
)

const (
	roomCodeLength       = 10
	roomCodeAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeMaxAttempts  = 25
	defaultMinPlayers    = 2
	countdownDuration    = 10 * time.Second
	countdownJobIDPrefix = "lobby-start-"
)

var allowedDurations = map[int]struct{}{1: {}, 2: {}, 5: {}, 10: {}}

// SessionStore is the subset of sessionstore.Store the controller
// depends on.
type SessionStore interface {
	Create(ctx context.Context, p sessionstore.CreateParams) (*domain.Session, []domain.Participant, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	AddParticipant(ctx context.Context, sessionID, userID string, isBot bool, rating int) (*domain.Participant, error)
	RemoveParticipant(ctx context.Context, participantID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	SetRoomCode(ctx context.Context, sessionID, roomCode string) error
	SetStatus(ctx context.Context, sessionID string, status domain.Status) error
	RoomCodeExists(ctx context.Context, roomCode string) (bool, error)
	GetByRoomCode(ctx context.Context, roomCode string) (*domain.Session, error)
	Cancel(ctx context.Context, sessionID string) error
}

// TimerDispatcher is the subset of timerqueue.Dispatcher the
// controller depends on.
type TimerDispatcher interface {
	Schedule(ctx context.Context, queue, jobID string, payload []byte, delay time.Duration) error
	Cancel(ctx context.Context, queue, jobID string) error
}

// EventBus is the subset of eventbus.Bus the controller depends on.
type EventBus interface {
	EmitToRoom(ctx context.Context, sessionID string, event string, payload interface{}) error
}

// GameStarter is implemented by gameengine.Engine: the handoff point
// from READY_COUNTDOWN to ACTIVE.
type GameStarter interface {
	StartGroupGame(ctx context.Context, session *domain.Session, participants []domain.Participant) error
}

// Projection is the client-facing view over Session+Participants
// (spec.md glossary, "Lobby projection").
type Projection struct {
	SessionID          string   `json:"sessionId"`
	RoomCode           string   `json:"roomCode"`
	HostID             string   `json:"hostId"`
	ParticipantIDs     []string `json:"participantIds"`
	MinPlayers         int      `json:"minPlayers"`
	MaxPlayers         int      `json:"maxPlayers"`
	Status             string   `json:"status"`
	CountdownStartedAt string   `json:"countdownStartedAt,omitempty"`
}

// Controller is the Lobby Controller. One instance is shared process-
// wide; per-lobby operations are serialized by a per-sessionID mutex
// (the lobby analog of broker.go's gamesMutex guarding activeGames: a
// registry of locks rather than a registry of goroutines, since a
// lobby has no continuous background work of its own until it hands
// off to the Game Engine).
type Controller struct {
	sessions SessionStore
	timers   TimerDispatcher
	bus      EventBus
	engine   GameStarter

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds a Controller wired to its collaborators.
func New(sessions SessionStore, timers TimerDispatcher, bus EventBus, engine GameStarter) *Controller {
	return &Controller{
		sessions: sessions,
		timers:   timers,
		bus:      bus,
		engine:   engine,
		locks:    make(map[string]*sync.Mutex),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Controller) lockFor(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	return l
}

func (c *Controller) dropLock(sessionID string) {
	c.mu.Lock()
	delete(c.locks, sessionID)
	c.mu.Unlock()
}

func (c *Controller) generateRoomCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < roomCodeMaxAttempts; attempt++ {
		code := c.randomCode()
		exists, err := c.sessions.RoomCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("lobby: room code lookup: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("lobby: could not generate a unique room code after %d attempts", roomCodeMaxAttempts)
}

func (c *Controller) randomCode() string {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	buf := make([]byte, roomCodeLength)
	for i := range buf {
		buf[i] = roomCodeAlphabet[c.rng.Intn(len(roomCodeAlphabet))]
	}
	return string(buf)
}

// CreateLobby validates the host's configuration and provisions a
// LOBBY session with the host as its first participant (spec.md
// §4.8). maxPlayers is the inner, authoritative [2,8] bound; a wider
// host-facing API bound is the caller's responsibility to enforce
// before reaching here.
func (c *Controller) CreateLobby(ctx context.Context, hostID string, difficulty domain.Tier, durationMinutes, maxPlayers int) (*domain.Session, error) {
	if difficulty != domain.TierEasy && difficulty != domain.TierMedium && difficulty != domain.TierHard {
		return nil, fmt.Errorf("lobby: invalid difficulty %q: %w", difficulty, domain.ErrValidation)
	}
	if _, ok := allowedDurations[durationMinutes]; !ok {
		return nil, fmt.Errorf("lobby: invalid duration %d: %w", durationMinutes, domain.ErrValidation)
	}
	if maxPlayers < 2 || maxPlayers > 8 {
		return nil, fmt.Errorf("lobby: invalid maxPlayers %d: %w", maxPlayers, domain.ErrValidation)
	}
	minPlayers := defaultMinPlayers
	if minPlayers > maxPlayers {
		return nil, fmt.Errorf("lobby: minPlayers %d exceeds maxPlayers %d: %w", minPlayers, maxPlayers, domain.ErrValidation)
	}

	roomCode, err := c.generateRoomCode(ctx)
	if err != nil {
		return nil, err
	}

	session, _, err := c.sessions.Create(ctx, sessionstore.CreateParams{
		Mode:        domain.ModeGroupPlay,
		Difficulty:  difficulty,
		DurationMin: durationMinutes,
		UserIDs:     []string{hostID},
		HostID:      hostID,
		RoomCode:    roomCode,
		MinPlayers:  minPlayers,
		MaxPlayers:  maxPlayers,
		Status:      domain.StatusLobby,
	})
	if err != nil {
		return nil, err
	}

	c.emitUpdate(ctx, session)
	return session, nil
}

// Join adds a user to a LOBBY session identified by room code (spec.md
// §4.8). Rejects unknown code, a lobby that has left LOBBY status, a
// full room, and a duplicate user.
func (c *Controller) Join(ctx context.Context, userID, roomCode string) (*domain.Session, error) {
	session, err := c.sessions.GetByRoomCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	lock := c.lockFor(session.ID)
	lock.Lock()
	defer lock.Unlock()

	session, err = c.sessions.Get(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.StatusLobby {
		return nil, fmt.Errorf("lobby: session %q is not joinable: %w", session.ID, domain.ErrStateConflict)
	}

	participants, err := c.sessions.ListParticipants(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(participants) >= session.MaxPlayers {
		return nil, fmt.Errorf("lobby: session %q is full: %w", session.ID, domain.ErrStateConflict)
	}
	for _, p := range participants {
		if p.UserID == userID {
			return nil, fmt.Errorf("lobby: user %q already joined %q: %w", userID, session.ID, domain.ErrStateConflict)
		}
	}

	if _, err := c.sessions.AddParticipant(ctx, session.ID, userID, false, 0); err != nil {
		return nil, err
	}

	c.emitUpdate(ctx, session)
	return session, nil
}

// Leave removes a participant from a LOBBY or READY_COUNTDOWN session.
// The host leaving dissolves the lobby outright (spec.md §4.8); any
// other leave that drops the headcount below minPlayers while counting
// down cancels the countdown and falls back to LOBBY.
func (c *Controller) Leave(ctx context.Context, userID, sessionID string) error {
	lock := c.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != domain.StatusLobby && session.Status != domain.StatusReadyCountdown {
		return fmt.Errorf("lobby: session %q is not in a lobby state: %w", sessionID, domain.ErrStateConflict)
	}

	if userID == session.HostID {
		return c.dissolve(ctx, session, "host left")
	}

	participants, err := c.sessions.ListParticipants(ctx, sessionID)
	if err != nil {
		return err
	}
	var leaving *domain.Participant
	for i := range participants {
		if participants[i].UserID == userID {
			leaving = &participants[i]
			break
		}
	}
	if leaving == nil {
		return fmt.Errorf("lobby: user %q is not in session %q: %w", userID, sessionID, domain.ErrNotFound)
	}
	if err := c.sessions.RemoveParticipant(ctx, leaving.ID); err != nil {
		return err
	}

	remaining := len(participants) - 1
	if session.Status == domain.StatusReadyCountdown && remaining < session.MinPlayers {
		if err := c.cancelCountdownLocked(ctx, session, "a player left and the lobby no longer has enough players"); err != nil {
			return err
		}
	}

	c.emitUpdate(ctx, session)
	return nil
}

func (c *Controller) dissolve(ctx context.Context, session *domain.Session, reason string) error {
	_ = c.timers.Cancel(ctx, timerqueue.QueueLobbyCountdown, countdownJobID(session.ID))
	if err := c.sessions.DeleteSession(ctx, session.ID); err != nil {
		return err
	}
	_ = c.bus.EmitToRoom(ctx, session.ID, "lobby:dissolved", map[string]any{
		"sessionId": session.ID,
		"reason":    reason,
	})
	c.dropLock(session.ID)
	return nil
}

// InitiateCountdown transitions LOBBY -> READY_COUNTDOWN (spec.md
// §4.8). Only the host may call this, and only once minPlayers is met.
func (c *Controller) InitiateCountdown(ctx context.Context, hostID, sessionID string) error {
	lock := c.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return fmt.Errorf("lobby: only the host may start the countdown: %w", domain.ErrValidation)
	}
	if session.Status != domain.StatusLobby {
		return fmt.Errorf("lobby: session %q is not in LOBBY: %w", sessionID, domain.ErrStateConflict)
	}
	participants, err := c.sessions.ListParticipants(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(participants) < session.MinPlayers {
		return fmt.Errorf("lobby: session %q does not have enough players yet: %w", sessionID, domain.ErrStateConflict)
	}

	if err := c.sessions.SetStatus(ctx, sessionID, domain.StatusReadyCountdown); err != nil {
		return err
	}

	startedAt := time.Now().UTC()
	payload, err := json.Marshal(countdownPayload{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("lobby: encode countdown payload: %w", err)
	}
	if err := c.timers.Schedule(ctx, timerqueue.QueueLobbyCountdown, countdownJobID(sessionID), payload, countdownDuration); err != nil {
		return err
	}

	_ = c.bus.EmitToRoom(ctx, sessionID, "lobby:countdown_started", map[string]any{
		"sessionId":      sessionID,
		"durationMs":     countdownDuration.Milliseconds(),
		"startedAt":      startedAt.Format(time.RFC3339),
	})
	return nil
}

// CancelCountdown transitions READY_COUNTDOWN -> LOBBY at the host's
// request.
func (c *Controller) CancelCountdown(ctx context.Context, hostID, sessionID string) error {
	lock := c.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return fmt.Errorf("lobby: only the host may cancel the countdown: %w", domain.ErrValidation)
	}
	if session.Status != domain.StatusReadyCountdown {
		return fmt.Errorf("lobby: session %q is not counting down: %w", sessionID, domain.ErrStateConflict)
	}
	return c.cancelCountdownLocked(ctx, session, "the host cancelled the countdown")
}

// cancelCountdownLocked assumes the caller already holds this
// session's lock.
func (c *Controller) cancelCountdownLocked(ctx context.Context, session *domain.Session, reason string) error {
	_ = c.timers.Cancel(ctx, timerqueue.QueueLobbyCountdown, countdownJobID(session.ID))
	if err := c.sessions.SetStatus(ctx, session.ID, domain.StatusLobby); err != nil {
		return err
	}
	_ = c.bus.EmitToRoom(ctx, session.ID, "lobby:countdown_cancelled", map[string]any{
		"sessionId": session.ID,
		"reason":    reason,
	})
	return nil
}

// HandleCountdownFired is the Timer Service callback for a fired
// lobby-start-{sessionId} job: it re-validates minPlayers, and either
// falls back to LOBBY (auto-cancel) or hands off to the Game Engine
// (spec.md §4.8, READY_COUNTDOWN -> ACTIVE).
func (c *Controller) HandleCountdownFired(ctx context.Context, sessionID string) error {
	lock := c.lockFor(sessionID)
	lock.Lock()

	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return err
	}
	if session.Status != domain.StatusReadyCountdown {
		// Already cancelled or dissolved; a fired job racing a cancel is
		// a silent no-op (spec.md §7 kind iv).
		lock.Unlock()
		return nil
	}

	participants, err := c.sessions.ListParticipants(ctx, sessionID)
	if err != nil {
		lock.Unlock()
		return err
	}
	if len(participants) < session.MinPlayers {
		err := c.cancelCountdownLocked(ctx, session, "not enough players when the countdown finished")
		lock.Unlock()
		return err
	}

	if err := c.sessions.SetRoomCode(ctx, sessionID, ""); err != nil {
		lock.Unlock()
		return err
	}
	session.RoomCode = ""

	lock.Unlock()
	c.dropLock(sessionID)

	return c.engine.StartGroupGame(ctx, session, participants)
}

func (c *Controller) emitUpdate(ctx context.Context, session *domain.Session) {
	participants, err := c.sessions.ListParticipants(ctx, session.ID)
	if err != nil {
		return
	}
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}
	_ = c.bus.EmitToRoom(ctx, session.ID, "lobby:update", Projection{
		SessionID:      session.ID,
		RoomCode:       session.RoomCode,
		HostID:         session.HostID,
		ParticipantIDs: ids,
		MinPlayers:     session.MinPlayers,
		MaxPlayers:     session.MaxPlayers,
		Status:         string(session.Status),
	})
}

func countdownJobID(sessionID string) string {
	return countdownJobIDPrefix + sessionID
}

// countdownPayload is the payload shape on the lobby-countdown-jobs
// queue.
type countdownPayload struct {
	SessionID string `json:"sessionId"`
}

// HandleCountdownJob is the timerqueue.Handler for the
// lobby-countdown-jobs queue, wired up the same way
// gameengine.Engine.HandleTimerJob is wired to game-timers.
func (c *Controller) HandleCountdownJob(ctx context.Context, job timerqueue.Job) error {
	var payload countdownPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("lobby: decode countdown payload: %w", err)
	}
	return c.HandleCountdownFired(ctx, payload.SessionID)
}
