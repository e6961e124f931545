package lobby

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quizarena/engine/domain"
	"github.com/quizarena/engine/sessionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeStore struct {
	mu           sync.Mutex
	nextID       int
	sessions     map[string]*domain.Session
	participants map[string][]domain.Participant
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:     make(map[string]*domain.Session),
		participants: make(map[string][]domain.Participant),
	}
}

func (f *fakeStore) Create(ctx context.Context, p sessionstore.CreateParams) (*domain.Session, []domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := string(rune('A' + f.nextID))
	status := p.Status
	if status == "" {
		status = domain.StatusWaiting
	}
	sess := &domain.Session{
		ID: id, Mode: p.Mode, Status: status, Difficulty: p.Difficulty,
		DurationMin: p.DurationMin, RoomCode: p.RoomCode, HostID: p.HostID,
		MinPlayers: p.MinPlayers, MaxPlayers: p.MaxPlayers,
	}
	f.sessions[id] = sess
	var participants []domain.Participant
	for _, u := range p.UserIDs {
		participants = append(participants, domain.Participant{ID: "p-" + u, SessionID: id, UserID: u})
	}
	f.participants[id] = participants
	return sess, participants, nil
}

func (f *fakeStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Participant, len(f.participants[sessionID]))
	copy(out, f.participants[sessionID])
	return out, nil
}

func (f *fakeStore) AddParticipant(ctx context.Context, sessionID, userID string, isBot bool, rating int) (*domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := domain.Participant{ID: "p-" + userID, SessionID: sessionID, UserID: userID, IsBot: isBot, Rating: rating}
	f.participants[sessionID] = append(f.participants[sessionID], p)
	return &p, nil
}

func (f *fakeStore) RemoveParticipant(ctx context.Context, participantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid, ps := range f.participants {
		for i, p := range ps {
			if p.ID == participantID {
				f.participants[sid] = append(ps[:i], ps[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	delete(f.participants, sessionID)
	return nil
}

func (f *fakeStore) SetRoomCode(ctx context.Context, sessionID, roomCode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID].RoomCode = roomCode
	return nil
}

func (f *fakeStore) SetStatus(ctx context.Context, sessionID string, status domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID].Status = status
	return nil
}

func (f *fakeStore) RoomCodeExists(ctx context.Context, roomCode string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.RoomCode == roomCode {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetByRoomCode(ctx context.Context, roomCode string) (*domain.Session, error) {
	f.mu.Lock()
	for _, s := range f.sessions {
		if s.RoomCode == roomCode && (s.Status == domain.StatusLobby || s.Status == domain.StatusReadyCountdown) {
			cp := *s
			f.mu.Unlock()
			return &cp, nil
		}
	}
	f.mu.Unlock()
	return nil, domain.ErrNotFound
}

func (f *fakeStore) Cancel(ctx context.Context, sessionID string) error {
	return f.SetStatus(ctx, sessionID, domain.StatusCancelled)
}

// fakeTimers implements lobby.TimerDispatcher, tracking scheduled job
// IDs so tests can assert a countdown was (or was not) cancelled.
type fakeTimers struct {
	mu   sync.Mutex
	jobs map[string]struct{}
}

func newFakeTimers() *fakeTimers { return &fakeTimers{jobs: make(map[string]struct{})} }

func (f *fakeTimers) Schedule(ctx context.Context, queue, jobID string, payload []byte, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = struct{}{}
	return nil
}

func (f *fakeTimers) Cancel(ctx context.Context, queue, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
	return nil
}

func (f *fakeTimers) has(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[jobID]
	return ok
}

type busEvent struct {
	SessionID string
	Event     string
	Payload   interface{}
}

type fakeBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (f *fakeBus) EmitToRoom(ctx context.Context, sessionID string, event string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, busEvent{SessionID: sessionID, Event: event, Payload: payload})
	return nil
}

func (f *fakeBus) last() busEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

type fakeGameStarter struct {
	started []string
}

func (g *fakeGameStarter) StartGroupGame(ctx context.Context, session *domain.Session, participants []domain.Participant) error {
	g.started = append(g.started, session.ID)
	return nil
}

// --- tests ---

func TestCreateLobby_ValidatesAndProvisions(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	c := New(store, newFakeTimers(), bus, &fakeGameStarter{})

	session, err := c.CreateLobby(context.Background(), "host-1", domain.TierEasy, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLobby, session.Status)
	assert.Len(t, session.RoomCode, roomCodeLength)
	assert.Equal(t, "lobby:update", bus.last().Event)
	assert.Equal(t, session.ID, bus.last().SessionID, "room events must be keyed by session id, not the human-shareable room code")

	_, err = c.CreateLobby(context.Background(), "host-2", domain.TierEasy, 3, 4)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestJoin_RejectsDuplicateAndFull(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	c := New(store, newFakeTimers(), bus, &fakeGameStarter{})

	session, err := c.CreateLobby(context.Background(), "host-1", domain.TierEasy, 5, 2)
	require.NoError(t, err)

	_, err = c.Join(context.Background(), "host-1", session.RoomCode)
	assert.ErrorIs(t, err, domain.ErrStateConflict) // duplicate

	_, err = c.Join(context.Background(), "player-2", session.RoomCode)
	require.NoError(t, err)

	_, err = c.Join(context.Background(), "player-3", session.RoomCode)
	assert.ErrorIs(t, err, domain.ErrStateConflict) // full
}

// TestHostLeavesMidCountdown is the literal spec scenario: host
// initiates countdown, then leaves before it fires. Expected: the
// pending countdown job is cancelled, lobby:dissolved is emitted, and
// the session is gone.
func TestHostLeavesMidCountdown(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	timers := newFakeTimers()
	c := New(store, timers, bus, &fakeGameStarter{})

	session, err := c.CreateLobby(context.Background(), "host-1", domain.TierEasy, 5, 2)
	require.NoError(t, err)
	_, err = c.Join(context.Background(), "player-2", session.RoomCode)
	require.NoError(t, err)

	require.NoError(t, c.InitiateCountdown(context.Background(), "host-1", session.ID))
	assert.True(t, timers.has(countdownJobID(session.ID)))

	require.NoError(t, c.Leave(context.Background(), "host-1", session.ID))
	assert.False(t, timers.has(countdownJobID(session.ID)))
	assert.Equal(t, "lobby:dissolved", bus.last().Event)

	_, err = store.Get(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// TestJoinAfterCountdownStarted is the literal spec scenario: a lobby
// in READY_COUNTDOWN rejects a fresh join attempt, membership unchanged.
func TestJoinAfterCountdownStarted(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	c := New(store, newFakeTimers(), bus, &fakeGameStarter{})

	session, err := c.CreateLobby(context.Background(), "host-1", domain.TierEasy, 5, 4)
	require.NoError(t, err)
	_, err = c.Join(context.Background(), "player-2", session.RoomCode)
	require.NoError(t, err)
	require.NoError(t, c.InitiateCountdown(context.Background(), "host-1", session.ID))

	_, err = c.Join(context.Background(), "player-3", session.RoomCode)
	assert.ErrorIs(t, err, domain.ErrStateConflict)

	participants, err := store.ListParticipants(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestHandleCountdownFired_HandsOffToEngine(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	starter := &fakeGameStarter{}
	c := New(store, newFakeTimers(), bus, starter)

	session, err := c.CreateLobby(context.Background(), "host-1", domain.TierEasy, 5, 2)
	require.NoError(t, err)
	_, err = c.Join(context.Background(), "player-2", session.RoomCode)
	require.NoError(t, err)
	require.NoError(t, c.InitiateCountdown(context.Background(), "host-1", session.ID))

	require.NoError(t, c.HandleCountdownFired(context.Background(), session.ID))
	assert.Contains(t, starter.started, session.ID)

	updated, err := store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.RoomCode)
}

func TestHandleCountdownFired_AutoCancelsBelowMinPlayers(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	starter := &fakeGameStarter{}
	c := New(store, newFakeTimers(), bus, starter)

	session, err := c.CreateLobby(context.Background(), "host-1", domain.TierEasy, 5, 2)
	require.NoError(t, err)
	_, err = c.Join(context.Background(), "player-2", session.RoomCode)
	require.NoError(t, err)
	require.NoError(t, c.InitiateCountdown(context.Background(), "host-1", session.ID))
	// Drop player-2 straight from the store so the countdown is still
	// running when it fires (Leave would cancel it first).
	require.NoError(t, store.RemoveParticipant(context.Background(), "p-player-2"))

	require.NoError(t, c.HandleCountdownFired(context.Background(), session.ID))
	assert.Empty(t, starter.started)

	updated, err := store.Get(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLobby, updated.Status)
}
