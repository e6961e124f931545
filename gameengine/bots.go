package gameengine

import (
	"context"
	"time"

	"github.com/quizarena/engine/domain"
)

// scheduleBotAnswer computes a bot's decision immediately (bot logic
// itself does not suspend) and delivers it to the session's actor after
// the simulated delay. The delayed delivery is bound to the actor's own
// context, so a bot answer for a session that has already ended never
// mutates anything (spec.md §9, "Bot scheduling" design note): the
// actor's tasks channel stops accepting work the moment stop() runs.
func (e *Engine) scheduleBotAnswer(sessionID string, participant domain.Participant, question domain.Question, mode domain.Mode, timeLimit time.Duration) {
	decision := e.bots.ChooseAnswer(question, mode, participant.Rating, timeLimit)

	actor := e.actorFor(sessionID)
	timer := time.NewTimer(decision.Delay)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			actor.submit(func() {
				e.dispatchAnswer(context.Background(), sessionID, participant.ID, question.ID, decision.OptionID)
			})
		case <-actor.ctx.Done():
		}
	}()
}
