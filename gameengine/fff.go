package gameengine

import (
	"context"
	"fmt"
	"time"

	"github.com/quizarena/engine/domain"
	"github.com/quizarena/engine/timerqueue"
)

// fffHandler is the shared-clock, first-correct-wins mode (spec.md
// §4.9.2). Unlike the per-participant modes, there is exactly one
// "current question" for the whole session, held in
// CurrentQuestionIndex/QuestionStartTime/QuestionAnswers.
type fffHandler struct{}

const fffMatchFoundGrace = 3 * time.Second
const fffAdvanceAfterCorrect = 2 * time.Second
const fffAdvanceAfterTimeout = 1 * time.Second

// OnStart emits the cosmetic match-found grace period in-process
// (unlike the per-question timeout and inter-question gap below, a
// lost 3 s intro delay on crash has no scoring consequence, so it does
// not need a durable job) and then starts the first question.
func (h fffHandler) OnStart(ctx context.Context, e *Engine, state *domain.LiveState) {
	humanIDs := e.humanParticipants(state.SessionID)
	if len(humanIDs) > 0 {
		_ = e.bus.EmitToParticipants(ctx, humanIDs, "ff:match_found", map[string]any{"sessionId": state.SessionID})
	}

	actor := e.actorFor(state.SessionID)
	timer := time.NewTimer(fffMatchFoundGrace)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			actor.submit(func() {
				h.startQuestion(context.Background(), e, state)
			})
		case <-actor.ctx.Done():
		}
	}()
}

// startQuestion begins CurrentQuestionIndex, or ends the game if the
// batch or the whole-game deadline has been exhausted.
func (h fffHandler) startQuestion(ctx context.Context, e *Engine, state *domain.LiveState) {
	q, ok := currentQuestion(state, state.CurrentQuestionIndex)
	if !ok || time.Now().After(state.EndTime) {
		e.endGame(ctx, state.SessionID)
		return
	}

	state.QuestionStartTime = time.Now().UTC()
	state.QuestionAnswers = nil
	_ = e.live.Set(ctx, state)

	_ = e.bus.EmitToRoom(ctx, state.SessionID, "ff:new_question", map[string]any{
		"question":        q.Stripped(),
		"questionNumber":   state.CurrentQuestionIndex + 1,
		"timePerQuestionMs": state.TimePerQuestion.Milliseconds(),
	})

	jobID := fmt.Sprintf("fff-timeout:%s:%d", state.SessionID, state.CurrentQuestionIndex)
	payload, _ := jsonGameTimerPayload(state.SessionID, q.ID)
	_ = e.timers.Schedule(ctx, timerqueue.QueueGameTimers, jobID, payload, state.TimePerQuestion)
	_ = e.live.SetFFFTimerJobID(ctx, state.SessionID, jobID)

	for _, participant := range e.allParticipants(state.SessionID) {
		if participant.IsBot {
			e.scheduleBotAnswer(state.SessionID, participant, q, domain.ModeFFF, state.TimePerQuestion)
		}
	}
}

func (fffHandler) OnAnswer(ctx context.Context, e *Engine, state *domain.LiveState, participantID, questionID, optionID string) {
	q, ok := currentQuestion(state, state.CurrentQuestionIndex)
	if !ok || q.ID != questionID {
		return
	}
	if time.Now().After(state.QuestionStartTime.Add(state.TimePerQuestion)) {
		return // race lost to the timeout firing; drop (spec.md §7 kind iv)
	}
	for _, a := range state.QuestionAnswers {
		if a.ParticipantID == participantID {
			return // already answered this question
		}
	}

	correct := optionID == q.CorrectOptionID
	now := time.Now().UTC()
	state.QuestionAnswers = append(state.QuestionAnswers, domain.FFFAnswer{
		ParticipantID: participantID,
		OptionID:      optionID,
		Timestamp:     now,
		Correct:       correct,
	})
	state.Results[participantID] = append(state.Results[participantID], domain.AnswerRecord{
		QuestionID: q.ID,
		TimeTaken:  now.Sub(state.QuestionStartTime),
		Action:     domain.ActionAnswered,
		Correct:    correct,
	})

	_ = e.bus.EmitToRoom(ctx, state.SessionID, "ff:player_answered", map[string]any{
		"participantId": participantID,
		"correct":       correct,
	})

	if correct && firstCorrect(state.QuestionAnswers, participantID) {
		state.Scores[participantID] += scoreAward(domain.ModeFFF)
		_ = e.live.Set(ctx, state)

		_ = e.bus.EmitToRoom(ctx, state.SessionID, "ff:point_awarded", map[string]any{
			"participantId":   participantID,
			"allScores":       state.Scores,
			"correctOptionId": q.CorrectOptionID,
		})

		if jobID, err := e.live.FFFTimerJobID(ctx, state.SessionID); err == nil && jobID != "" {
			_ = e.timers.Cancel(ctx, timerqueue.QueueGameTimers, jobID)
			_ = e.live.ClearFFFTimerJobID(ctx, state.SessionID)
		}

		idx := state.CurrentQuestionIndex
		jobID := fmt.Sprintf("fff-advance:%s:%d", state.SessionID, idx)
		payload, _ := jsonGameTimerPayload(state.SessionID, fmt.Sprintf("%s%d", fffAdvancePrefix, idx))
		_ = e.timers.Schedule(ctx, timerqueue.QueueGameTimers, jobID, payload, fffAdvanceAfterCorrect)
	} else {
		_ = e.live.Set(ctx, state)
	}
}

// firstCorrect reports whether participantID's answer is the single
// earliest-arriving correct answer recorded so far for the current
// question (spec.md §8 invariant 2): arrival order, not client
// timestamp, decides.
func firstCorrect(answers []domain.FFFAnswer, participantID string) bool {
	for _, a := range answers {
		if a.Correct {
			return a.ParticipantID == participantID
		}
	}
	return false
}

func (fffHandler) OnSkip(ctx context.Context, e *Engine, state *domain.LiveState, participantID string) {
	// FFF has no client-facing skip action.
}

// OnQuestionTimeout fires when the per-question timer beats every
// participant to a correct answer.
func (h fffHandler) OnQuestionTimeout(ctx context.Context, e *Engine, state *domain.LiveState, questionID string) {
	q, ok := currentQuestion(state, state.CurrentQuestionIndex)
	if !ok || q.ID != questionID {
		return // stale timer for a question that has already advanced
	}

	answered := make(map[string]struct{}, len(state.QuestionAnswers))
	for _, a := range state.QuestionAnswers {
		answered[a.ParticipantID] = struct{}{}
	}
	for _, participant := range e.allParticipants(state.SessionID) {
		if _, ok := answered[participant.ID]; ok {
			continue
		}
		state.Results[participant.ID] = append(state.Results[participant.ID], domain.AnswerRecord{
			QuestionID: q.ID,
			Action:     domain.ActionTimeout,
			Correct:    false,
		})
	}
	_ = e.live.ClearFFFTimerJobID(ctx, state.SessionID)
	_ = e.live.Set(ctx, state)

	_ = e.bus.EmitToRoom(ctx, state.SessionID, "ff:question_timeout", map[string]any{
		"questionNumber":  state.CurrentQuestionIndex + 1,
		"correctOptionId": q.CorrectOptionID,
	})

	idx := state.CurrentQuestionIndex
	jobID := fmt.Sprintf("fff-advance:%s:%d", state.SessionID, idx)
	payload, _ := jsonGameTimerPayload(state.SessionID, fmt.Sprintf("%s%d", fffAdvancePrefix, idx))
	_ = e.timers.Schedule(ctx, timerqueue.QueueGameTimers, jobID, payload, fffAdvanceAfterTimeout)
}

// Advance moves to the next question, ignoring a job scheduled for an
// index the session has already moved past (duplicate delivery or a
// job that lost a race to another advance path).
func (h fffHandler) Advance(ctx context.Context, e *Engine, state *domain.LiveState, forIndex int) {
	if state.CurrentQuestionIndex != forIndex {
		return
	}
	state.CurrentQuestionIndex++
	_ = e.live.Set(ctx, state)
	h.startQuestion(ctx, e, state)
}

func (fffHandler) OnGameEnd(ctx context.Context, e *Engine, state *domain.LiveState) {
	_ = e.bus.EmitToRoom(ctx, state.SessionID, "ff:game_end", map[string]any{
		"scores":  state.Scores,
		"results": state.Results,
	})
}
