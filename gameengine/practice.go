package gameengine

import (
	"context"
	"time"

	"github.com/quizarena/engine/domain"
)

// practiceHandler drives a single human participant at the client's own
// pace (spec.md §4.9.3). spec.md §9 calls out the absence of
// server-side completion detection as a gap a production system should
// close; OnAnswer below closes it by ending the game once the
// participant has worked through every question in the batch, rather
// than leaving the session open until the whole-game timer fires.
type practiceHandler struct{}

func (practiceHandler) OnStart(ctx context.Context, e *Engine, state *domain.LiveState) {
	participants := e.allParticipants(state.SessionID)
	if len(participants) == 0 {
		return
	}
	p := participants[0]
	_ = e.bus.EmitToParticipants(ctx, []string{p.ID}, "practice:started", map[string]any{
		"sessionId":      state.SessionID,
		"participantId":  p.ID,
		"totalQuestions": len(state.Questions),
	})
}

// RequestNext answers practice:next_question.
func (practiceHandler) RequestNext(ctx context.Context, e *Engine, state *domain.LiveState, participantID string) {
	participant, ok := e.participantOf(state.SessionID, participantID)
	if !ok {
		return
	}
	serveCurrentIfNotSent(ctx, e, state, participant, domain.ModePractice, 0)
}

func (practiceHandler) OnAnswer(ctx context.Context, e *Engine, state *domain.LiveState, participantID, questionID, optionID string) {
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
		state.Scores[participantID] += scoreAward(domain.ModePractice)
	}
	state.UserProgress[participantID]++
	_ = e.live.Set(ctx, state)

	_ = e.bus.EmitToParticipants(ctx, []string{participantID}, "answer:feedback", map[string]any{
		"correct":         correct,
		"correctOptionId": q.CorrectOptionID,
		"explanation":     q.Explanation,
		"learningTip":     q.LearningTip,
	})

	if state.UserProgress[participantID] >= len(state.Questions) {
		e.endGame(ctx, state.SessionID)
	}
}

func (practiceHandler) OnSkip(ctx context.Context, e *Engine, state *domain.LiveState, participantID string) {
	// PRACTICE has no client-facing skip action; the client simply
	// requests the next question again.
}

func (practiceHandler) OnQuestionTimeout(ctx context.Context, e *Engine, state *domain.LiveState, questionID string) {
	// PRACTICE has no per-question timer.
}

func (practiceHandler) OnGameEnd(ctx context.Context, e *Engine, state *domain.LiveState) {
	for pid, results := range state.Results {
		_ = e.bus.EmitToParticipants(ctx, []string{pid}, "practice:finished", map[string]any{
			"results": results,
		})
	}
}
