package gameengine

import (
	"context"
	"time"

	"github.com/quizarena/engine/domain"
)

// timeAttackHandler is a single human participant racing a shared
// countdown over a large question pool (spec.md §4.9.4). Unlike
// PRACTICE, each correct/incorrect answer auto-serves the next
// question; the client only needs to explicitly request the very first
// one.
type timeAttackHandler struct{}

func (timeAttackHandler) OnStart(ctx context.Context, e *Engine, state *domain.LiveState) {
	participants := e.allParticipants(state.SessionID)
	if len(participants) == 0 {
		return
	}
	_ = e.bus.EmitToParticipants(ctx, []string{participants[0].ID}, "time_attack:started", map[string]any{
		"sessionId": state.SessionID,
		"endTime":   state.EndTime,
	})
}

// RequestNext answers time_attack:request_next_question.
func (h timeAttackHandler) RequestNext(ctx context.Context, e *Engine, state *domain.LiveState, participantID string) {
	participant, ok := e.participantOf(state.SessionID, participantID)
	if !ok {
		return
	}
	if sentAt, ok := state.QuestionSentAt[participant.ID]; ok && !sentAt.IsZero() {
		return
	}
	h.sendNextOrFinish(ctx, e, state, participant)
}

// sendNextOrFinish serves participant's next question, or runs the
// common end-of-game procedure if the question pool is exhausted or the
// whole-game deadline has passed (spec.md §4.9.4: "On deadline or pool
// exhaustion: emit time_attack:finished {scores, results}"). Unlike
// QUICK_DUEL's sendNextQuestion, TIME_ATTACK never leaves a participant
// idle on exhaustion since there is only one human per session and
// nothing else can end the game early.
func (timeAttackHandler) sendNextOrFinish(ctx context.Context, e *Engine, state *domain.LiveState, participant domain.Participant) {
	q, ok := expectedQuestion(state, participant.ID)
	if !ok || time.Now().After(state.EndTime) {
		e.endGame(ctx, state.SessionID)
		return
	}

	if participant.IsBot {
		e.scheduleBotAnswer(state.SessionID, participant, q, domain.ModeTimeAttack, 0)
		return
	}

	state.QuestionSentAt[participant.ID] = time.Now().UTC()
	_ = e.live.Set(ctx, state)
	_ = e.bus.EmitToParticipants(ctx, []string{participant.ID}, "question:new", map[string]any{
		"question":       q.Stripped(),
		"questionNumber": state.UserProgress[participant.ID] + 1,
	})
}

func (h timeAttackHandler) OnAnswer(ctx context.Context, e *Engine, state *domain.LiveState, participantID, questionID, optionID string) {
	q, ok := expectedQuestion(state, participantID)
	if !ok || q.ID != questionID {
		return
	}
	correct := optionID == q.CorrectOptionID

	var timeTaken time.Duration
	if sentAt, ok := state.QuestionSentAt[participantID]; ok && !sentAt.IsZero() {
		timeTaken = time.Since(sentAt)
	}
	delete(state.QuestionSentAt, participantID)

	state.Results[participantID] = append(state.Results[participantID], domain.AnswerRecord{
		QuestionID: q.ID,
		TimeTaken:  timeTaken,
		Action:     domain.ActionAnswered,
		Correct:    correct,
	})
	if correct {
		state.Scores[participantID] += scoreAward(domain.ModeTimeAttack)
	}
	state.UserProgress[participantID]++
	_ = e.live.Set(ctx, state)

	_ = e.bus.EmitToParticipants(ctx, []string{participantID}, "time_attack:score_update", map[string]any{
		"score": state.Scores[participantID],
	})

	if participant, ok := e.participantOf(state.SessionID, participantID); ok {
		h.sendNextOrFinish(ctx, e, state, participant)
	}
}

func (timeAttackHandler) OnSkip(ctx context.Context, e *Engine, state *domain.LiveState, participantID string) {
	// TIME_ATTACK has no client-facing skip action.
}

func (timeAttackHandler) OnQuestionTimeout(ctx context.Context, e *Engine, state *domain.LiveState, questionID string) {
	// TIME_ATTACK has no per-question timer; only the whole-game deadline applies.
}

func (timeAttackHandler) OnGameEnd(ctx context.Context, e *Engine, state *domain.LiveState) {
	for pid := range state.Scores {
		_ = e.bus.EmitToParticipants(ctx, []string{pid}, "time_attack:finished", map[string]any{
			"scores":  state.Scores,
			"results": state.Results,
		})
	}
}
