package gatewayserver

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/quizarena/engine/domain"
)

type startRequest struct {
	OpponentUserIDs []string    `json:"opponentUserIds"`
	BotCount        int         `json:"botCount"`
	Difficulty      domain.Tier `json:"difficulty"`
	DurationMin     int         `json:"durationMinutes"`
	CategoryTags    []string    `json:"categoryTags"`
	NumQuestions    int         `json:"numQuestions"`
}

type sessionResponse struct {
	SessionID     string `json:"sessionId"`
	RoomCode      string `json:"roomCode,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
}

func (s *Server) sessionResponseFor(w http.ResponseWriter, r *http.Request, session *domain.Session, userID string) {
	participants, _ := s.sessions.ListParticipants(r.Context(), session.ID)
	resp := sessionResponse{
		SessionID:     session.ID,
		RoomCode:      session.RoomCode,
		ParticipantID: participantIDFor(participants, userID),
	}
	s.gateway.BindParticipant(userID, resp.ParticipantID)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleStartQuickDuel(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID string) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userIDs := append([]string{userID}, req.OpponentUserIDs...)
	session, err := s.engine.StartQuickDuel(r.Context(), userIDs, req.BotCount, req.Difficulty, req.DurationMin)
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessionResponseFor(w, r, session, userID)
}

func (s *Server) handleStartFFF(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID string) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userIDs := append([]string{userID}, req.OpponentUserIDs...)
	session, err := s.engine.StartFFF(r.Context(), userIDs, req.BotCount, req.Difficulty, req.DurationMin)
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessionResponseFor(w, r, session, userID)
}

func (s *Server) handleStartPractice(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID string) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.engine.StartPractice(r.Context(), userID, req.Difficulty, req.CategoryTags, req.NumQuestions)
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessionResponseFor(w, r, session, userID)
}

func (s *Server) handleStartTimeAttack(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID string) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.engine.StartTimeAttack(r.Context(), userID, req.Difficulty, req.DurationMin)
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessionResponseFor(w, r, session, userID)
}

type createLobbyRequest struct {
	Difficulty      domain.Tier `json:"difficulty"`
	DurationMinutes int         `json:"durationMinutes"`
	MaxPlayers      int         `json:"maxPlayers"`
}

func (s *Server) handleCreateLobby(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID string) {
	var req createLobbyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	session, err := s.lobby.CreateLobby(r.Context(), userID, req.Difficulty, req.DurationMinutes, req.MaxPlayers)
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessionResponseFor(w, r, session, userID)
}

func (s *Server) handleJoinLobby(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID string) {
	session, err := s.lobby.Join(r.Context(), userID, ps.ByName("roomCode"))
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessionResponseFor(w, r, session, userID)
}

func (s *Server) handleLeaveLobby(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID string) {
	if err := s.lobby.Leave(r.Context(), userID, ps.ByName("sessionID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleInitiateCountdown(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID string) {
	if err := s.lobby.InitiateCountdown(r.Context(), userID, ps.ByName("sessionID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleCancelCountdown(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID string) {
	if err := s.lobby.CancelCountdown(r.Context(), userID, ps.ByName("sessionID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type answerRequest struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

// participantIDForRequest resolves the caller's participant id within
// sessionID; HandleAnswer/HandleSkip are fire-and-forget (dispatched to
// the session's actor), so a bad participant id is simply ignored
// downstream rather than surfaced as an HTTP error (spec.md §7 kind ii).
func (s *Server) participantIDForRequest(r *http.Request, sessionID, userID string) string {
	participants, err := s.sessions.ListParticipants(r.Context(), sessionID)
	if err != nil {
		return ""
	}
	return participantIDFor(participants, userID)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID string) {
	var req answerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sessionID := ps.ByName("sessionID")
	participantID := s.participantIDForRequest(r, sessionID, userID)
	s.engine.HandleAnswer(sessionID, participantID, req.QuestionID, req.OptionID)
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID string) {
	sessionID := ps.ByName("sessionID")
	participantID := s.participantIDForRequest(r, sessionID, userID)
	s.engine.HandleSkip(sessionID, participantID)
	writeJSON(w, http.StatusAccepted, nil)
}

// handleNextQuestion answers the client-paced "give me the next
// question" action shared by Practice, Time Attack, and Quick Duel's
// first-question pull (spec.md §4.9.2/.4/.5); the mode is implicit in
// whichever handler is wired for the session, so this one route serves
// all three.
func (s *Server) handleNextQuestion(w http.ResponseWriter, r *http.Request, ps httprouter.Params, userID string) {
	sessionID := ps.ByName("sessionID")
	participantID := s.participantIDForRequest(r, sessionID, userID)
	s.engine.HandlePracticeNextQuestion(sessionID, participantID)
	writeJSON(w, http.StatusAccepted, nil)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params, userID string) {
	s.gateway.ServeWS(w, r, userID)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": s.gateway.ConnectionCount(),
		"uptime":      time.Since(s.startedAt).String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ string) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
