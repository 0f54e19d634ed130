package train

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func nan() float32 {
	return float32(math.NaN())
}

func TestCosine(t *testing.T) {
	s := NewCosine(1.0, 100)

	assert.InDelta(t, 1.0, s.LR(0, nan()), 1e-6)
	assert.InDelta(t, 0.5, s.LR(50, nan()), 1e-6)
	assert.InDelta(t, 0.0, s.LR(100, nan()), 1e-6)
	assert.Greater(t, s.LR(1, nan()), s.LR(99, nan()))
}

func TestCosineWarmup(t *testing.T) {
	s := NewCosineWarmup(1.0, 5, 105)

	// Linear ramp over the warmup epochs.
	assert.InDelta(t, 0.2, s.LR(0, nan()), 1e-6)
	assert.InDelta(t, 0.6, s.LR(2, nan()), 1e-6)
	assert.InDelta(t, 1.0, s.LR(4, nan()), 1e-6)

	// Cosine from the end of warmup.
	assert.InDelta(t, 1.0, s.LR(5, nan()), 1e-6)
	assert.InDelta(t, 0.5, s.LR(55, nan()), 1e-6)
	assert.InDelta(t, 0.0, s.LR(105, nan()), 1e-6)
}

func TestStepDecay(t *testing.T) {
	s := NewStepDecay(1.0, 0.1, 10)

	assert.InDelta(t, 1.0, s.LR(0, nan()), 1e-6)
	assert.InDelta(t, 1.0, s.LR(9, nan()), 1e-6)
	assert.InDelta(t, 0.1, s.LR(10, nan()), 1e-6)
	assert.InDelta(t, 0.01, s.LR(25, nan()), 1e-6)
}

func TestPlateau(t *testing.T) {
	t.Run("holds while improving", func(t *testing.T) {
		s := NewPlateau(1.0, 0.1, 2, Minimize)

		assert.InDelta(t, 1.0, s.LR(0, nan()), 1e-6)
		assert.InDelta(t, 1.0, s.LR(1, 0.5), 1e-6)
		assert.InDelta(t, 1.0, s.LR(2, 0.4), 1e-6)
	})

	t.Run("cuts after patience stalls", func(t *testing.T) {
		s := NewPlateau(1.0, 0.1, 2, Minimize)

		s.LR(0, nan())
		s.LR(1, 0.5)
		s.LR(2, 0.5)
		s.LR(3, 0.5)
		assert.InDelta(t, 0.1, s.LR(4, 0.5), 1e-6)

		// An improvement keeps the reduced rate and resets the stall
		// count.
		assert.InDelta(t, 0.1, s.LR(5, 0.1), 1e-6)
	})

	t.Run("maximize direction", func(t *testing.T) {
		s := NewPlateau(1.0, 0.5, 0, Maximize)

		s.LR(0, 0.5)
		assert.InDelta(t, 0.5, s.LR(1, 0.5), 1e-6)
		assert.InDelta(t, 0.5, s.LR(2, 0.9), 1e-6)
		assert.InDelta(t, 0.25, s.LR(3, 0.9), 1e-6)
	})
}
