package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngine_Update_EqualRatingsWinLoss(t *testing.T) {
	e := New()
	newA, newB := e.Update(1200, 1200, 1)
	assert.Equal(t, 1216, newA)
	assert.Equal(t, 1184, newB)
}

func TestEngine_Update_Draw(t *testing.T) {
	e := New()
	newA, newB := e.Update(1200, 1400, 0.5)
	assert.Greater(t, newA, 1200)
	assert.Less(t, newB, 1400)
}

func TestEngine_Update_ZeroSumWithinRounding(t *testing.T) {
	e := New()
	oldA, oldB := 1500, 1380
	newA, newB := e.Update(oldA, oldB, 1)
	delta := (newA + newB) - (oldA + oldB)
	assert.LessOrEqual(t, delta, 1)
	assert.GreaterOrEqual(t, delta, -1)
}

func TestNormalizeOutcome(t *testing.T) {
	assert.Equal(t, 1.0, NormalizeOutcome(10, 5))
	assert.Equal(t, 0.0, NormalizeOutcome(5, 10))
	assert.Equal(t, 0.5, NormalizeOutcome(5, 5))
}
