package gameengine

import (
	"context"
	"fmt"
	"time"

	"github.com/quizarena/engine/domain"
	"github.com/quizarena/engine/sessionstore"
	"github.com/quizarena/engine/timerqueue"
)

// errorEventFor maps a mode to its error event name (spec.md §7).
func errorEventFor(mode domain.Mode) string {
	switch mode {
	case domain.ModePractice:
		return "practice:error"
	case domain.ModeTimeAttack:
		return "time_attack:error"
	default:
		return "game:error"
	}
}

// provisionAndStart is the shared tail of every Start* entry point:
// fetch a question batch, bail out to resource-exhaustion handling if
// it's empty, initialize LiveState, schedule the whole-game timeout,
// activate the session, cache the participant roster on the session's
// actor, and run the mode's OnStart.
func (e *Engine) provisionAndStart(ctx context.Context, session *domain.Session, participants []domain.Participant, categoryTags []string, batchSize int) error {
	batch, err := e.questions.FetchBatch(ctx, session.Difficulty, categoryTags, batchSize)
	if err != nil {
		_ = e.sessions.Cancel(ctx, session.ID)
		return fmt.Errorf("gameengine: fetch question batch: %w", err)
	}
	if len(batch) == 0 {
		_ = e.sessions.Cancel(ctx, session.ID)
		_ = e.bus.EmitToParticipants(ctx, humanOnly(participants), errorEventFor(session.Mode), map[string]any{
			"sessionId": session.ID,
			"reason":    "no questions available for the requested difficulty/category",
		})
		return fmt.Errorf("gameengine: empty question pool: %w", domain.ErrResourceExhausted)
	}

	endTime := time.Now().Add(time.Duration(session.DurationMin) * time.Minute)
	state := domain.NewLiveState(session.ID, session.Mode, session.Difficulty, batch, endTime, participantIDs(participants))
	if session.Mode == domain.ModeFFF {
		state.TimePerQuestion = time.Duration(e.cfg.FFFMaxPerQuestionMs) * time.Millisecond
	}

	if err := e.live.Set(ctx, state); err != nil {
		_ = e.sessions.Cancel(ctx, session.ID)
		return fmt.Errorf("gameengine: checkpoint initial state: %w", err)
	}

	jobID := fmt.Sprintf("game-end:%s", session.ID)
	payload, _ := jsonGameTimerPayload(session.ID, gameEndQuestionID)
	if err := e.timers.Schedule(ctx, timerqueue.QueueGameTimers, jobID, payload, time.Until(endTime)); err != nil {
		return fmt.Errorf("gameengine: schedule game-end timer: %w", err)
	}

	if err := e.sessions.Activate(ctx, session.ID); err != nil {
		return fmt.Errorf("gameengine: activate session: %w", err)
	}

	actor := e.actorFor(session.ID)
	actor.setParticipants(participants)

	h := e.handler[session.Mode]
	actor.submit(func() {
		h.OnStart(context.Background(), e, state)
	})
	return nil
}

func participantIDs(participants []domain.Participant) []string {
	out := make([]string, len(participants))
	for i, p := range participants {
		out[i] = p.ID
	}
	return out
}

func humanOnly(participants []domain.Participant) []string {
	var out []string
	for _, p := range participants {
		if !p.IsBot {
			out = append(out, p.ID)
		}
	}
	return out
}

// StartQuickDuel provisions a 2-participant (human + optional bot)
// Quick Duel session and starts play.
func (e *Engine) StartQuickDuel(ctx context.Context, userIDs []string, botCount int, difficulty domain.Tier, durationMin int) (*domain.Session, error) {
	session, participants, err := e.sessions.Create(ctx, sessionstore.CreateParams{
		Mode:        domain.ModeQuickDuel,
		Difficulty:  difficulty,
		DurationMin: durationMin,
		UserIDs:     userIDs,
		BotCount:    botCount,
	})
	if err != nil {
		return nil, err
	}
	if err := e.provisionAndStart(ctx, session, participants, nil, e.cfg.QuestionBatchSize); err != nil {
		return nil, err
	}
	return session, nil
}

// StartFFF provisions a Fastest Finger First session.
func (e *Engine) StartFFF(ctx context.Context, userIDs []string, botCount int, difficulty domain.Tier, durationMin int) (*domain.Session, error) {
	if durationMin <= 0 {
		durationMin = e.cfg.FFFDefaultDurationMinutes
	}
	session, participants, err := e.sessions.Create(ctx, sessionstore.CreateParams{
		Mode:        domain.ModeFFF,
		Difficulty:  difficulty,
		DurationMin: durationMin,
		UserIDs:     userIDs,
		BotCount:    botCount,
	})
	if err != nil {
		return nil, err
	}
	if err := e.provisionAndStart(ctx, session, participants, nil, e.cfg.QuestionBatchSize); err != nil {
		return nil, err
	}
	return session, nil
}

// StartPractice provisions a single-participant Practice session.
func (e *Engine) StartPractice(ctx context.Context, userID string, difficulty domain.Tier, categoryTags []string, numQuestions int) (*domain.Session, error) {
	session, participants, err := e.sessions.Create(ctx, sessionstore.CreateParams{
		Mode:        domain.ModePractice,
		Difficulty:  difficulty,
		DurationMin: 0,
		UserIDs:     []string{userID},
	})
	if err != nil {
		return nil, err
	}
	if numQuestions <= 0 {
		numQuestions = e.cfg.QuestionBatchSize
	}
	// Practice has no whole-game timer in the usual sense, but every
	// session still needs an EndTime far enough out that it never fires
	// during normal client-paced play; practiceMaxSessionMinutes below
	// sets that bound.
	session.DurationMin = practiceMaxSessionMinutes
	if err := e.provisionAndStart(ctx, session, participants, categoryTags, numQuestions); err != nil {
		return nil, err
	}
	return session, nil
}

// practiceMaxSessionMinutes bounds an abandoned Practice session so it
// is eventually reclaimed even though the client, not a countdown,
// normally ends the session.
const practiceMaxSessionMinutes = 240

// StartTimeAttack provisions a single-participant Time Attack session
// against a large question pool.
func (e *Engine) StartTimeAttack(ctx context.Context, userID string, difficulty domain.Tier, durationMin int) (*domain.Session, error) {
	session, participants, err := e.sessions.Create(ctx, sessionstore.CreateParams{
		Mode:        domain.ModeTimeAttack,
		Difficulty:  difficulty,
		DurationMin: durationMin,
		UserIDs:     []string{userID},
	})
	if err != nil {
		return nil, err
	}
	if err := e.provisionAndStart(ctx, session, participants, nil, e.cfg.QuestionBatchSize); err != nil {
		return nil, err
	}
	return session, nil
}

// StartGroupGame is the Lobby Controller's handoff point
// (READY_COUNTDOWN -> ACTIVE, spec.md §4.8): the lobby has already
// created the session and its participants; this only provisions
// LiveState and starts play.
func (e *Engine) StartGroupGame(ctx context.Context, session *domain.Session, participants []domain.Participant) error {
	return e.provisionAndStart(ctx, session, participants, nil, e.cfg.QuestionBatchSize)
}

// HandlePracticeNextQuestion answers practice:next_question.
func (e *Engine) HandlePracticeNextQuestion(sessionID, participantID string) {
	e.dispatchNextQuestionRequest(sessionID, participantID)
}

// HandleTimeAttackRequestNext answers time_attack:request_next_question.
func (e *Engine) HandleTimeAttackRequestNext(sessionID, participantID string) {
	e.dispatchNextQuestionRequest(sessionID, participantID)
}

// HandleQuickDuelRequestFirstQuestion answers
// quickduel:request_first_question.
func (e *Engine) HandleQuickDuelRequestFirstQuestion(sessionID, participantID string) {
	e.dispatchNextQuestionRequest(sessionID, participantID)
}

func (e *Engine) dispatchNextQuestionRequest(sessionID, participantID string) {
	actor := e.actorFor(sessionID)
	actor.submit(func() {
		ctx := context.Background()
		state, mode, ok := e.loadActive(ctx, sessionID)
		if !ok {
			return
		}
		if requester, ok := e.handler[mode].(nextQuestionRequester); ok {
			requester.RequestNext(ctx, e, state, participantID)
		}
	})
}
