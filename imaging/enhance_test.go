package imaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verigo/tensor"
)

func TestCLAHE(t *testing.T) {
	t.Run("Output stays in range", func(t *testing.T) {
		tn := tensor.RandUniform(testRNG(), 0, 1, 1, 1, 64, 64)

		out := CLAHE(tn, DefaultClipLimit, DefaultGridSize)

		require.True(t, out.SameShape(tn))

		for _, v := range out.Data {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}
	})

	t.Run("Raises contrast of a flat gradient", func(t *testing.T) {
		// Gradient squeezed into [0.45, 0.55]. Equalization should
		// spread the values over a wider range.
		tn := tensor.New(1, 1, 64, 64)
		for y := 0; y < 64; y++ {
			v := 0.45 + 0.1*float32(y)/63
			for x := 0; x < 64; x++ {
				tn.Set(v, 0, 0, y, x)
			}
		}

		out := CLAHE(tn, DefaultClipLimit, DefaultGridSize)

		assert.Greater(t, out.Std(), tn.Std())
	})

	t.Run("Constant plane stays constant", func(t *testing.T) {
		tn := tensor.Full(0.5, 1, 1, 32, 32)

		out := CLAHE(tn, DefaultClipLimit, DefaultGridSize)

		// All mass sits in one histogram bin, so every pixel maps to
		// the same output level.
		first := out.Data[0]
		for _, v := range out.Data {
			assert.InDelta(t, first, v, 1e-6)
		}
	})

	t.Run("Input untouched", func(t *testing.T) {
		tn := tensor.RandUniform(testRNG(), 0, 1, 1, 1, 16, 16)
		orig := tn.Clone()

		_ = CLAHE(tn, DefaultClipLimit, DefaultGridSize)

		assert.Equal(t, orig.Data, tn.Data)
	})

	t.Run("Processes channels independently", func(t *testing.T) {
		tn := tensor.New(1, 2, 16, 16)
		for i := range tn.Data {
			if i < 16*16 {
				tn.Data[i] = 0.2
			} else {
				tn.Data[i] = 0.8
			}
		}

		out := CLAHE(tn, DefaultClipLimit, DefaultGridSize)

		// Each channel is constant, so each equalizes to a single
		// level independent of the other.
		c0 := out.Plane(0, 0)
		c1 := out.Plane(0, 1)
		for i := 1; i < len(c0); i++ {
			assert.InDelta(t, c0[0], c0[i], 1e-6)
			assert.InDelta(t, c1[0], c1[i], 1e-6)
		}
	})
}

func TestMedianFilter3(t *testing.T) {
	t.Run("Removes isolated spike", func(t *testing.T) {
		tn := tensor.Full(0.5, 1, 1, 5, 5)
		tn.Set(1.0, 0, 0, 2, 2)

		out := MedianFilter3(tn)

		// The spike is a minority in every 3x3 window.
		assert.InDelta(t, 0.5, out.At(0, 0, 2, 2), 1e-6)
	})

	t.Run("Constant plane unchanged", func(t *testing.T) {
		tn := tensor.Full(0.25, 1, 1, 6, 6)

		out := MedianFilter3(tn)

		for _, v := range out.Data {
			assert.InDelta(t, 0.25, v, 1e-6)
		}
	})

	t.Run("Preserves step edge location", func(t *testing.T) {
		tn := tensor.New(1, 1, 4, 8)
		for y := 0; y < 4; y++ {
			for x := 4; x < 8; x++ {
				tn.Set(1.0, 0, 0, y, x)
			}
		}

		out := MedianFilter3(tn)

		// Median of a half-and-half window keeps the majority side,
		// so the edge between columns 3 and 4 survives.
		for y := 0; y < 4; y++ {
			assert.InDelta(t, 0.0, out.At(0, 0, y, 2), 1e-6)
			assert.InDelta(t, 1.0, out.At(0, 0, y, 5), 1e-6)
		}
	})

	t.Run("Corner spike removed", func(t *testing.T) {
		// Replication puts the corner value in 4 of 9 window slots,
		// still a minority.
		tn := tensor.Full(0.1, 1, 1, 3, 3)
		tn.Set(0.9, 0, 0, 0, 0)

		out := MedianFilter3(tn)

		assert.InDelta(t, 0.1, out.At(0, 0, 0, 0), 1e-6)
	})

	t.Run("Salt and pepper noise suppressed", func(t *testing.T) {
		rng := testRNG()
		tn := tensor.Full(0.5, 1, 1, 32, 32)
		for i := 0; i < 40; i++ {
			y := rng.Intn(32)
			x := rng.Intn(32)
			if rng.Intn(2) == 0 {
				tn.Set(0, 0, 0, y, x)
			} else {
				tn.Set(1, 0, 0, y, x)
			}
		}

		out := MedianFilter3(tn)

		// With sparse noise most windows hold a clean majority.
		clean := 0
		for _, v := range out.Data {
			if v == 0.5 {
				clean++
			}
		}
		assert.Greater(t, clean, len(out.Data)*9/10)
	})
}
