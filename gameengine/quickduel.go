package gameengine

import (
	"context"
	"time"

	"github.com/quizarena/engine/domain"
)

// quickDuelHandler implements per-participant progression, scoring 10
// points per correct answer, with no server-side bound on questions
// served (only the whole-game timer ends play — spec.md §9's
// "preserve that contract" note).
type quickDuelHandler struct{}

func (quickDuelHandler) OnStart(ctx context.Context, e *Engine, state *domain.LiveState) {
	for _, participant := range e.allParticipants(state.SessionID) {
		sendNextQuestion(ctx, e, state, participant, domain.ModeQuickDuel, 0)
	}
}

// sendNextQuestion serves a participant's current question: for a
// human, strips correctness metadata and emits question:new and
// records questionSentAt; for a bot, schedules a simulated answer.
// Exhausting the batch emits participant:finished and leaves the
// participant idle until the whole-game timer ends the session.
func sendNextQuestion(ctx context.Context, e *Engine, state *domain.LiveState, participant domain.Participant, mode domain.Mode, timeLimit time.Duration) {
	q, ok := expectedQuestion(state, participant.ID)
	if !ok {
		_ = e.bus.EmitToParticipants(ctx, []string{participant.ID}, "participant:finished", map[string]any{
			"participantId": participant.ID,
		})
		return
	}

	if participant.IsBot {
		e.scheduleBotAnswer(state.SessionID, participant, q, mode, timeLimit)
		return
	}

	state.QuestionSentAt[participant.ID] = time.Now().UTC()
	_ = e.live.Set(ctx, state)
	_ = e.bus.EmitToParticipants(ctx, []string{participant.ID}, "question:new", map[string]any{
		"question":      q.Stripped(),
		"questionNumber": state.UserProgress[participant.ID] + 1,
	})
}

func (quickDuelHandler) OnAnswer(ctx context.Context, e *Engine, state *domain.LiveState, participantID, questionID, optionID string) {
	q, ok := expectedQuestion(state, participantID)
	if !ok || q.ID != questionID {
		return // not the currently expected question: silently drop (idempotence)
	}

	correct := optionID == q.CorrectOptionID
	recordAnswerAndAdvance(ctx, e, state, participantID, q, domain.ActionAnswered, correct, domain.ModeQuickDuel)
}

func (quickDuelHandler) OnSkip(ctx context.Context, e *Engine, state *domain.LiveState, participantID string) {
	q, ok := expectedQuestion(state, participantID)
	if !ok {
		return
	}
	recordAnswerAndAdvance(ctx, e, state, participantID, q, domain.ActionSkipped, false, domain.ModeQuickDuel)
}

func (quickDuelHandler) OnQuestionTimeout(ctx context.Context, e *Engine, state *domain.LiveState, questionID string) {
	// QUICK_DUEL has no per-question timer; only the whole-game timer
	// applies, which routes to endGame, not here.
}

// RequestNext answers a quickduel:request_first_question event.
// Quick Duel already auto-serves on start, so this is a harmless
// idempotent resend for a client that missed the original push.
func (quickDuelHandler) RequestNext(ctx context.Context, e *Engine, state *domain.LiveState, participantID string) {
	if participant, ok := e.participantOf(state.SessionID, participantID); ok {
		serveCurrentIfNotSent(ctx, e, state, participant, domain.ModeQuickDuel, 0)
	}
}

func (quickDuelHandler) OnGameEnd(ctx context.Context, e *Engine, state *domain.LiveState) {
	_ = e.bus.EmitToRoom(ctx, state.SessionID, "game:end", map[string]any{
		"scores":  state.Scores,
		"results": state.Results,
	})
}

// recordAnswerAndAdvance is the shared Quick Duel/Group Play answer
// bookkeeping: append a results record, award points, broadcast the
// score map, advance progression, and serve the next question.
func recordAnswerAndAdvance(ctx context.Context, e *Engine, state *domain.LiveState, participantID string, q domain.Question, action domain.AnswerAction, correct bool, mode domain.Mode) {
	var timeTaken time.Duration
	if sentAt, ok := state.QuestionSentAt[participantID]; ok && !sentAt.IsZero() {
		timeTaken = time.Since(sentAt)
	}
	delete(state.QuestionSentAt, participantID)

	state.Results[participantID] = append(state.Results[participantID], domain.AnswerRecord{
		QuestionID: q.ID,
		TimeTaken:  timeTaken,
		Action:     action,
		Correct:    correct,
	})

	scoreEvent := "score:update"
	if mode == domain.ModeGroupPlay {
		scoreEvent = "group_game:score_update"
	}

	if correct {
		state.Scores[participantID] += scoreAward(mode)
		_ = e.bus.EmitToRoom(ctx, state.SessionID, scoreEvent, map[string]any{"scores": state.Scores})
	}

	state.UserProgress[participantID]++
	_ = e.live.Set(ctx, state)

	if participant, ok := e.participantOf(state.SessionID, participantID); ok {
		sendNextQuestion(ctx, e, state, participant, mode, 0)
	}
}
