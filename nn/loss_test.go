package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verigo/tensor"
)

func TestBCELoss(t *testing.T) {
	t.Run("Perfect prediction is near zero", func(t *testing.T) {
		pred, err := tensor.FromSlice([]float32{1, 0, 1}, 3)
		require.NoError(t, err)
		target, err := tensor.FromSlice([]float32{1, 0, 1}, 3)
		require.NoError(t, err)

		loss, _ := BCELoss(pred, target)
		assert.InDelta(t, 0.0, loss, 1e-5)
	})

	t.Run("Coin flip loss is ln 2", func(t *testing.T) {
		pred := tensor.Full(0.5, 4)
		target, err := tensor.FromSlice([]float32{1, 0, 1, 0}, 4)
		require.NoError(t, err)

		loss, _ := BCELoss(pred, target)
		assert.InDelta(t, math.Ln2, loss, 1e-5)
	})

	t.Run("Gradient sign pushes toward target", func(t *testing.T) {
		pred := tensor.Full(0.5, 2)
		target, err := tensor.FromSlice([]float32{1, 0}, 2)
		require.NoError(t, err)

		_, grad := BCELoss(pred, target)
		assert.Negative(t, grad.Data[0]) // increase pred toward 1
		assert.Positive(t, grad.Data[1]) // decrease pred toward 0
	})

	t.Run("Clamped at the extremes", func(t *testing.T) {
		pred, err := tensor.FromSlice([]float32{0, 1}, 2)
		require.NoError(t, err)
		target, err := tensor.FromSlice([]float32{1, 0}, 2)
		require.NoError(t, err)

		loss, grad := BCELoss(pred, target)
		assert.False(t, math.IsInf(float64(loss), 0))
		assert.False(t, math.IsNaN(float64(grad.Data[0])))
	})
}

func TestMSELoss(t *testing.T) {
	pred, err := tensor.FromSlice([]float32{1, 2, 3}, 3)
	require.NoError(t, err)
	target, err := tensor.FromSlice([]float32{1, 0, 0}, 3)
	require.NoError(t, err)

	loss, grad := MSELoss(pred, target)
	assert.InDelta(t, (0.0+4.0+9.0)/3, loss, 1e-5)
	assert.InDelta(t, 0.0, grad.Data[0], 1e-6)
	assert.InDelta(t, 4.0/3, grad.Data[1], 1e-5)
	assert.InDelta(t, 2.0, grad.Data[2], 1e-5)
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	t.Run("Uniform logits give ln C", func(t *testing.T) {
		logits := tensor.New(2, 4)
		loss, _ := SoftmaxCrossEntropy(logits, []int{0, 3})
		assert.InDelta(t, math.Log(4), loss, 1e-5)
	})

	t.Run("Confident correct prediction is near zero", func(t *testing.T) {
		logits, err := tensor.FromSlice([]float32{50, 0, 0}, 1, 3)
		require.NoError(t, err)

		loss, _ := SoftmaxCrossEntropy(logits, []int{0})
		assert.InDelta(t, 0.0, loss, 1e-5)
	})

	t.Run("Gradient rows sum to zero", func(t *testing.T) {
		logits := tensor.RandN(testRNG(), 2, 3, 5)
		_, grad := SoftmaxCrossEntropy(logits, []int{1, 4, 0})

		for i := 0; i < 3; i++ {
			var sum float32
			for _, v := range grad.Row(i) {
				sum += v
			}
			assert.InDelta(t, 0.0, sum, 1e-5)
		}
	})

	t.Run("Target gradient is negative", func(t *testing.T) {
		logits := tensor.New(1, 3)
		_, grad := SoftmaxCrossEntropy(logits, []int{2})

		assert.Negative(t, grad.At(0, 2))
		assert.Positive(t, grad.At(0, 0))
	})
}

func TestArgMaxRows(t *testing.T) {
	logits, err := tensor.FromSlice([]float32{
		1, 5, 2,
		9, 0, 3,
	}, 2, 3)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 0}, ArgMaxRows(logits))
}

func TestDiceScore(t *testing.T) {
	t.Run("Identical non-empty masks score one", func(t *testing.T) {
		mask, err := tensor.FromSlice([]float32{0.9, 0.8, 0.1, 0.2}, 4)
		require.NoError(t, err)
		target, err := tensor.FromSlice([]float32{1, 1, 0, 0}, 4)
		require.NoError(t, err)

		assert.InDelta(t, 1.0, DiceScore(mask, target), 1e-5)
	})

	t.Run("Disjoint masks score near zero", func(t *testing.T) {
		pred, err := tensor.FromSlice([]float32{1, 1, 0, 0}, 4)
		require.NoError(t, err)
		target, err := tensor.FromSlice([]float32{0, 0, 1, 1}, 4)
		require.NoError(t, err)

		assert.InDelta(t, 0.0, DiceScore(pred, target), 1e-5)
	})

	t.Run("Half overlap", func(t *testing.T) {
		pred, err := tensor.FromSlice([]float32{1, 1, 0, 0}, 4)
		require.NoError(t, err)
		target, err := tensor.FromSlice([]float32{1, 0, 1, 0}, 4)
		require.NoError(t, err)

		// 2*1 / (2+2)
		assert.InDelta(t, 0.5, DiceScore(pred, target), 1e-5)
	})

	t.Run("Empty masks score one via smoothing", func(t *testing.T) {
		pred := tensor.New(4)
		target := tensor.New(4)

		assert.InDelta(t, 1.0, DiceScore(pred, target), 1e-5)
	})
}
