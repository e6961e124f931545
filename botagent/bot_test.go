package botagent

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/quizarena/engine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuestion() domain.Question {
	return domain.Question{
		ID:     "q1",
		Prompt: "2+2?",
		Options: []domain.Option{
			{ID: "a", Text: "3"},
			{ID: "b", Text: "4"},
			{ID: "c", Text: "5"},
		},
		CorrectOptionID: "b",
	}
}

func TestChooseAnswer_PicksValidOption(t *testing.T) {
	agent := NewFromSource(rand.New(rand.NewPCG(1, 2)))
	q := sampleQuestion()

	for i := 0; i < 50; i++ {
		d := agent.ChooseAnswer(q, domain.ModeQuickDuel, 1200, 0)
		found := false
		for _, o := range q.Options {
			if o.ID == d.OptionID {
				found = true
			}
		}
		require.True(t, found, "option %q must be one of the question's options", d.OptionID)
		assert.Greater(t, d.Delay, time.Duration(0))
	}
}

func TestChooseAnswer_HighRatingMoreAccurate(t *testing.T) {
	lowCorrect, highCorrect := 0, 0
	const trials = 400
	q := sampleQuestion()

	lowAgent := NewFromSource(rand.New(rand.NewPCG(10, 20)))
	for i := 0; i < trials; i++ {
		d := lowAgent.ChooseAnswer(q, domain.ModeQuickDuel, 600, 0)
		if d.OptionID == q.CorrectOptionID {
			lowCorrect++
		}
	}

	highAgent := NewFromSource(rand.New(rand.NewPCG(30, 40)))
	for i := 0; i < trials; i++ {
		d := highAgent.ChooseAnswer(q, domain.ModeQuickDuel, 2800, 0)
		if d.OptionID == q.CorrectOptionID {
			highCorrect++
		}
	}

	assert.Greater(t, highCorrect, lowCorrect)
}

func TestChooseAnswer_FFFDelayRespectsTimeLimitCap(t *testing.T) {
	agent := NewFromSource(rand.New(rand.NewPCG(5, 6)))
	q := sampleQuestion()
	limit := 600 * time.Millisecond

	for i := 0; i < 50; i++ {
		d := agent.ChooseAnswer(q, domain.ModeFFF, 1200, limit)
		assert.LessOrEqual(t, d.Delay, limit-100*time.Millisecond)
	}
}
