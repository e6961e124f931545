package gameengine

import (
	"context"

	"github.com/quizarena/engine/domain"
)

// groupPlayHandler is Quick Duel's per-participant progression with
// room-wide fan-out instead of 1:1 delivery (spec.md §4.9.5); it shares
// recordAnswerAndAdvance/sendNextQuestion with quickDuelHandler and
// differs only in which events it emits at the two ends of a session's
// life.
type groupPlayHandler struct{}

func (groupPlayHandler) OnStart(ctx context.Context, e *Engine, state *domain.LiveState) {
	_ = e.bus.EmitToRoom(ctx, state.SessionID, "group_game:started", map[string]any{
		"sessionId": state.SessionID,
	})
	for _, participant := range e.allParticipants(state.SessionID) {
		sendNextQuestion(ctx, e, state, participant, domain.ModeGroupPlay, 0)
	}
}

func (groupPlayHandler) OnAnswer(ctx context.Context, e *Engine, state *domain.LiveState, participantID, questionID, optionID string) {
	q, ok := expectedQuestion(state, participantID)
	if !ok || q.ID != questionID {
		return
	}
	correct := optionID == q.CorrectOptionID
	recordAnswerAndAdvance(ctx, e, state, participantID, q, domain.ActionAnswered, correct, domain.ModeGroupPlay)
}

func (groupPlayHandler) OnSkip(ctx context.Context, e *Engine, state *domain.LiveState, participantID string) {
	q, ok := expectedQuestion(state, participantID)
	if !ok {
		return
	}
	recordAnswerAndAdvance(ctx, e, state, participantID, q, domain.ActionSkipped, false, domain.ModeGroupPlay)
}

func (groupPlayHandler) OnQuestionTimeout(ctx context.Context, e *Engine, state *domain.LiveState, questionID string) {
	// GROUP_PLAY has no per-question timer.
}

func (groupPlayHandler) OnGameEnd(ctx context.Context, e *Engine, state *domain.LiveState) {
	_ = e.bus.EmitToRoom(ctx, state.SessionID, "group_game:finished", map[string]any{
		"scores":  state.Scores,
		"results": state.Results,
	})
}
