package gameengine

import (
	"context"
	"fmt"

	"github.com/quizarena/engine/domain"
	"github.com/quizarena/engine/rating"
	"github.com/quizarena/engine/timerqueue"
)

// endGame runs the common end-of-game procedure (spec.md §4.9.6) for
// every mode: cancel the whole-game timer, read and clear LiveState,
// conditionally apply a rating update, persist final scores, and let
// the mode handler emit its terminal event. Idempotent: a second call
// after LiveState has already been deleted is a no-op (spec.md §7
// kind iv, and invariant 5: after end-of-game, LiveState is absent).
func (e *Engine) endGame(ctx context.Context, sessionID string) {
	jobID := fmt.Sprintf("game-end:%s", sessionID)
	_ = e.timers.Cancel(ctx, timerqueue.QueueGameTimers, jobID)

	state, err := e.live.Get(ctx, sessionID)
	if err != nil {
		return
	}

	humanIDs := e.humanParticipants(sessionID)
	if (state.Mode == domain.ModeQuickDuel || state.Mode == domain.ModeFFF) && len(humanIDs) == 2 {
		e.applyRatingUpdate(ctx, sessionID, humanIDs, state.Scores)
	}

	_ = e.live.Delete(ctx, sessionID)
	_ = e.live.ClearFFFTimerJobID(ctx, sessionID)
	_ = e.sessions.End(ctx, sessionID, state.Scores)

	if h, ok := e.handler[state.Mode]; ok {
		h.OnGameEnd(ctx, e, state)
	}

	e.retireActor(sessionID)
}

// applyRatingUpdate normalizes the two humans' raw scores and applies
// the symmetric Elo update (spec.md §4.9.6 step 3, §4.7).
func (e *Engine) applyRatingUpdate(ctx context.Context, sessionID string, humanIDs []string, scores map[string]int) {
	a, b := humanIDs[0], humanIDs[1]
	pa, okA := e.participantOf(sessionID, a)
	pb, okB := e.participantOf(sessionID, b)
	if !okA || !okB {
		return
	}

	outcome := rating.NormalizeOutcome(scores[a], scores[b])
	newA, newB := e.elo.Update(pa.Rating, pb.Rating, outcome)
	e.log.Info("gameengine: rating update", "session_id", sessionID,
		"participant_a", a, "old_a", pa.Rating, "new_a", newA,
		"participant_b", b, "old_b", pb.Rating, "new_b", newB)
	if err := e.sessions.UpdateRatings(ctx, map[string]int{a: newA, b: newB}); err != nil {
		e.log.Error("gameengine: persist rating update failed", "session_id", sessionID, "error", err)
	}

	if err := e.live.InvalidateLeaderboards(ctx, []string{pa.UserID, pb.UserID}); err != nil {
		e.log.Error("gameengine: invalidate leaderboard cache failed", "session_id", sessionID, "error", err)
	}
}
