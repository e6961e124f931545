// Package rating implements the symmetric two-player Elo-like rating
// update used after a competitive 1v1 game (spec.md §4.7).
//
// This is pure arithmetic with no I/O and no ecosystem library in the
// retrieved pack addresses it; it stays on the standard library
// (math) by design — see DESIGN.md.
package rating

import "math"

// DefaultK is the default K-factor (spec.md §6 configuration).
const DefaultK = 32

// Engine computes Elo rating deltas with a configurable K-factor.
type Engine struct {
	K int
}

// New returns a rating Engine using DefaultK.
func New() *Engine {
	return &Engine{K: DefaultK}
}

// NewWithK returns a rating Engine using the given K-factor.
func NewWithK(k int) *Engine {
	return &Engine{K: k}
}

// Update applies the standard Elo formula to a finished 1v1 game.
// scoreA must be one of 0, 0.5, or 1 (normalized outcome for player A).
func (e *Engine) Update(ratingA, ratingB int, scoreA float64) (newA, newB int) {
	expectedA := 1 / (1 + math.Pow(10, float64(ratingB-ratingA)/400))
	expectedB := 1 - expectedA
	scoreB := 1 - scoreA

	k := float64(e.K)
	newA = int(math.Round(float64(ratingA) + k*(scoreA-expectedA)))
	newB = int(math.Round(float64(ratingB) + k*(scoreB-expectedB)))
	return newA, newB
}

// NormalizeOutcome converts two raw final scores into the normalized
// {1, 0.5, 0} pair the Engine expects, from the perspective of player A.
func NormalizeOutcome(scoreRawA, scoreRawB int) (outcomeA float64) {
	switch {
	case scoreRawA > scoreRawB:
		return 1
	case scoreRawA < scoreRawB:
		return 0
	default:
		return 0.5
	}
}
