// Package botagent simulates an opponent's answer choice and think time
// for bot participants (spec.md §4.6). It is a deterministic function of
// (question, mode, rating) plus an injected random source; no I/O, no
// ecosystem library in the pack models "randomized NPC decision delay",
// so this stays on math/rand/v2 — see DESIGN.md.
package botagent

import (
	"math/rand/v2"
	"time"

	"github.com/quizarena/engine/domain"
)

// Decision is the bot's chosen option and the delay before it answers.
type Decision struct {
	OptionID string
	Delay    time.Duration
}

// Agent draws bot decisions from a supplied random source so callers can
// make tests deterministic.
type Agent struct {
	rng *rand.Rand
}

// New returns an Agent seeded randomly, so its draws differ from run to
// run. Use NewFromSource for deterministic tests.
func New() *Agent {
	return &Agent{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewFromSource builds an Agent around a caller-supplied *rand.Rand.
func NewFromSource(r *rand.Rand) *Agent {
	return &Agent{rng: r}
}

// delay bands, ms, interpolated linearly by rating (spec.md §4.6).
var baseBand = map[domain.Mode][2]float64{
	domain.ModeQuickDuel: {4000, 1000},
	domain.ModeFFF:       {2500, 500},
}

const (
	minBotRating = 600
	maxBotRating = 2800
	minCorrectP  = 0.70
	maxCorrectP  = 0.99
)

// correctnessProbability interpolates linearly in rating from 0.70 at 600
// to 0.99 at 2800, clamped at the ends.
func correctnessProbability(r int) float64 {
	rating := clampF(float64(r), minBotRating, maxBotRating)
	t := (rating - minBotRating) / (maxBotRating - minBotRating)
	return minCorrectP + t*(maxCorrectP-minCorrectP)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// baseDelayMs interpolates the mode's base band linearly by rating; the
// band is given high-to-low (slow at low rating, fast at high rating).
func baseDelayMs(mode domain.Mode, rating int) float64 {
	band, ok := baseBand[mode]
	if !ok {
		band = baseBand[domain.ModeQuickDuel]
	}
	r := clampF(float64(rating), minBotRating, maxBotRating)
	t := (r - minBotRating) / (maxBotRating - minBotRating)
	return band[0] + t*(band[1]-band[0])
}

// ChooseAnswer implements the C6 contract: chooseAnswer(question, mode,
// rating, optionalTimeLimit) -> {optionId, delayMs}.
//
// timeLimit is the FFF per-question deadline, or 0 for modes without one.
func (a *Agent) ChooseAnswer(q domain.Question, mode domain.Mode, rating int, timeLimit time.Duration) Decision {
	correct := a.rng.Float64() < correctnessProbability(rating)

	var optionID string
	if correct {
		optionID = q.CorrectOptionID
	} else {
		optionID = a.pickWrongOption(q)
	}

	delay := a.simulateDelay(mode, rating)

	if mode == domain.ModeFFF && timeLimit > 0 {
		cap := timeLimit - 100*time.Millisecond
		if cap < 0 {
			cap = 0
		}
		if delay > cap {
			delay = cap
		}
	}

	return Decision{OptionID: optionID, Delay: delay}
}

func (a *Agent) pickWrongOption(q domain.Question) string {
	var wrong []string
	for _, o := range q.Options {
		if o.ID != q.CorrectOptionID {
			wrong = append(wrong, o.ID)
		}
	}
	if len(wrong) == 0 {
		return q.CorrectOptionID
	}
	return wrong[a.rng.IntN(len(wrong))]
}

// simulateDelay composes the base band with jitter, a 10% "thinking
// pause" or else a 15% "quick response" (13.5% overall), and a rating-driven consistency
// factor, then clamps to a human-plausible band (spec.md §4.6).
func (a *Agent) simulateDelay(mode domain.Mode, rating int) time.Duration {
	base := baseDelayMs(mode, rating)

	jitter := 1 + (a.rng.Float64()*0.6 - 0.3) // +/-30%
	factor := jitter

	switch {
	case a.rng.Float64() < 0.10:
		factor *= 1.5 + a.rng.Float64()*1.5 // 1.5x-3.0x thinking pause
	case a.rng.Float64() < 0.15:
		factor *= 0.4 + a.rng.Float64()*0.4 // 0.4x-0.8x quick response
	}

	r := clampF(float64(rating), minBotRating, maxBotRating)
	t := (r - minBotRating) / (maxBotRating - minBotRating)
	consistency := 0.7 + t*0.6 // [0.7, 1.3], rising with rating
	factor *= consistency

	ms := base * factor

	minMs, maxMs := humanBand(mode)
	ms = clampF(ms, minMs, maxMs)

	return time.Duration(ms) * time.Millisecond
}

// humanBand bounds the final delay to a plausible human range per mode.
func humanBand(mode domain.Mode) (min, max float64) {
	switch mode {
	case domain.ModeFFF:
		return 300, 8000
	default:
		return 500, 12000
	}
}
