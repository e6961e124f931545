package gameengine

import (
	"context"
	"time"

	"github.com/quizarena/engine/domain"
)

// modeHandler is the common capability set every mode implements
// (spec.md §9, "Polymorphism over modes"): a tagged variant over Mode
// with per-variant handlers for the shared event vocabulary. Engine's
// handler map is the only place that switches on Mode; everything else
// programs against this interface. Grounded on
// tkahng-quick-sticks/hand.go's HandInterface, which gives each hand
// shape (straight, flush, pair, ...) the same method set
// (`Compare`, `String`, ...) so the caller never type-switches either.
type modeHandler interface {
	// OnStart runs once right after LiveState is first checkpointed,
	// serving each participant's first question (or, for FFF, the
	// shared first question after the match-found grace period).
	OnStart(ctx context.Context, e *Engine, state *domain.LiveState)

	// OnAnswer processes answer:submit for participantID against
	// questionID/optionID.
	OnAnswer(ctx context.Context, e *Engine, state *domain.LiveState, participantID, questionID, optionID string)

	// OnSkip processes question:skip for participantID. Modes where
	// skipping is not a supported client action (FFF) treat this as a
	// no-op.
	OnSkip(ctx context.Context, e *Engine, state *domain.LiveState, participantID string)

	// OnQuestionTimeout processes a fired per-question timer. Only FFF
	// schedules per-question timers; other modes no-op.
	OnQuestionTimeout(ctx context.Context, e *Engine, state *domain.LiveState, questionID string)

	// OnGameEnd emits the mode-specific terminal event (step 6 of the
	// end-of-game procedure, spec.md §4.9.6). Everything else in that
	// procedure is common and lives in endgame.go.
	OnGameEnd(ctx context.Context, e *Engine, state *domain.LiveState)
}

// scoreAward is the per-correct-answer point value for a mode
// (spec.md §8 invariant 1): 10 for every mode except FFF, which awards 1.
func scoreAward(mode domain.Mode) int {
	if mode == domain.ModeFFF {
		return 1
	}
	return 10
}

// currentQuestion returns the question at idx, or ok=false if idx is
// past the end of the batch.
func currentQuestion(state *domain.LiveState, idx int) (domain.Question, bool) {
	if idx < 0 || idx >= len(state.Questions) {
		return domain.Question{}, false
	}
	return state.Questions[idx], true
}

// expectedQuestion returns the question a participant's next answer
// must reference, given their UserProgress index.
func expectedQuestion(state *domain.LiveState, participantID string) (domain.Question, bool) {
	return currentQuestion(state, state.UserProgress[participantID])
}

// nextQuestionRequester is implemented by modes whose client explicitly
// paces question delivery (PRACTICE, TIME_ATTACK) and, for symmetry,
// QUICK_DUEL's request_first_question event.
type nextQuestionRequester interface {
	RequestNext(ctx context.Context, e *Engine, state *domain.LiveState, participantID string)
}

// serveCurrentIfNotSent delivers a participant's current question only
// if it has not already been delivered, making repeated client requests
// for the same progression step idempotent (spec.md §8 invariant/
// scenario "Practice idempotent next-question").
func serveCurrentIfNotSent(ctx context.Context, e *Engine, state *domain.LiveState, participant domain.Participant, mode domain.Mode, timeLimit time.Duration) {
	if sentAt, ok := state.QuestionSentAt[participant.ID]; ok && !sentAt.IsZero() {
		return
	}
	sendNextQuestion(ctx, e, state, participant, mode, timeLimit)
}
