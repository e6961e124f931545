// Package gatewayserver is the HTTP front door (spec.md §6): it turns
// REST calls into gameengine/lobby operations, binds callers to their
// wsgateway connection, and serves the WebSocket upgrade and
// stats/health endpoints. Routing and the stats/health/CORS shape are
// adapted from server/server.go and server/middleware.go; the julienschmidt/httprouter
// matched-wildcard style is adopted from the broader example pack
// (e.g. Seednode-partybox's web.go) since the teacher itself used a
// bare http.ServeMux, which can't express path parameters like
// :sessionID without extra parsing.
package gatewayserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/quizarena/engine/domain"
)

// GameEngine is the slice of gameengine.Engine the gateway needs.
type GameEngine interface {
	StartQuickDuel(ctx context.Context, userIDs []string, botCount int, difficulty domain.Tier, durationMin int) (*domain.Session, error)
	StartFFF(ctx context.Context, userIDs []string, botCount int, difficulty domain.Tier, durationMin int) (*domain.Session, error)
	StartPractice(ctx context.Context, userID string, difficulty domain.Tier, categoryTags []string, numQuestions int) (*domain.Session, error)
	StartTimeAttack(ctx context.Context, userID string, difficulty domain.Tier, durationMin int) (*domain.Session, error)
	HandleAnswer(sessionID, participantID, questionID, optionID string)
	HandleSkip(sessionID, participantID string)
	HandlePracticeNextQuestion(sessionID, participantID string)
	HandleTimeAttackRequestNext(sessionID, participantID string)
	HandleQuickDuelRequestFirstQuestion(sessionID, participantID string)
}

// LobbyController is the slice of lobby.Controller the gateway needs.
type LobbyController interface {
	CreateLobby(ctx context.Context, hostID string, difficulty domain.Tier, durationMinutes, maxPlayers int) (*domain.Session, error)
	Join(ctx context.Context, userID, roomCode string) (*domain.Session, error)
	Leave(ctx context.Context, userID, sessionID string) error
	InitiateCountdown(ctx context.Context, hostID, sessionID string) error
	CancelCountdown(ctx context.Context, hostID, sessionID string) error
}

// ParticipantLister looks up a session's roster, used to resolve the
// caller's participant id for wsgateway binding and response payloads.
type ParticipantLister interface {
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
}

// Gateway is the slice of wsgateway.Gateway the server needs.
type Gateway interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string)
	BindParticipant(userID, participantID string)
	ConnectionCount() int
}

type Server struct {
	engine    GameEngine
	lobby     LobbyController
	sessions  ParticipantLister
	gateway   Gateway
	router    *httprouter.Router
	handler   http.Handler
	startedAt time.Time
}

type Config struct {
	AllowedOrigin string
}

func New(engine GameEngine, lobby LobbyController, sessions ParticipantLister, gateway Gateway, cfg Config) *Server {
	s := &Server{
		engine:    engine,
		lobby:     lobby,
		sessions:  sessions,
		gateway:   gateway,
		router:    httprouter.New(),
		startedAt: time.Now(),
	}
	s.routes()
	s.handler = cors(cfg.AllowedOrigin)(identify(s.router))
	return s
}

func (s *Server) routes() {
	s.router.POST("/api/duel", s.wrap(s.handleStartQuickDuel))
	s.router.POST("/api/fff", s.wrap(s.handleStartFFF))
	s.router.POST("/api/practice", s.wrap(s.handleStartPractice))
	s.router.POST("/api/time-attack", s.wrap(s.handleStartTimeAttack))

	s.router.POST("/api/lobby", s.wrap(s.handleCreateLobby))
	s.router.POST("/api/lobby/join/:roomCode", s.wrap(s.handleJoinLobby))
	s.router.POST("/api/lobby/:sessionID/leave", s.wrap(s.handleLeaveLobby))
	s.router.POST("/api/lobby/:sessionID/countdown", s.wrap(s.handleInitiateCountdown))
	s.router.DELETE("/api/lobby/:sessionID/countdown", s.wrap(s.handleCancelCountdown))

	s.router.POST("/api/games/:sessionID/answer", s.wrap(s.handleAnswer))
	s.router.POST("/api/games/:sessionID/skip", s.wrap(s.handleSkip))
	s.router.POST("/api/games/:sessionID/next", s.wrap(s.handleNextQuestion))

	s.router.GET("/api/ws", s.wrap(s.handleWebSocket))
	s.router.GET("/api/stats", s.wrap(s.handleStats))
	s.router.GET("/api/health", s.wrap(s.handleHealth))
}

// wrap adapts an httprouter.Handle-shaped method taking a
// resolved userID into an httprouter.Handle.
func (s *Server) wrap(h func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID string)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		h(w, r, ps, userIDFromContext(r.Context()))
	}
}

// Handler returns the fully wrapped http.Handler (CORS + identity +
// routing) suitable for http.Server.Handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrStateConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrResourceExhausted):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return domain.ErrValidation
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(domain.ErrValidation, err)
	}
	return nil
}

func participantIDFor(participants []domain.Participant, userID string) string {
	for _, p := range participants {
		if p.UserID == userID {
			return p.ID
		}
	}
	return ""
}
