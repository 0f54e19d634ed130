package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verigo/tensor"
)

func TestLinearForward(t *testing.T) {
	l := NewLinear(testRNG(), 3, 2)
	copy(l.weight.Data.Data, []float32{
		1, 2, 3,
		4, 5, 6,
	})
	copy(l.bias.Data.Data, []float32{10, 20})

	x, err := tensor.FromSlice([]float32{1, 1, 1}, 1, 3)
	require.NoError(t, err)

	out := l.Forward(x)
	require.Equal(t, []int{1, 2}, out.Shape)
	assert.Equal(t, []float32{16, 35}, out.Data)
}

func TestLinearBackward(t *testing.T) {
	l := NewLinear(testRNG(), 2, 2)
	l.SetTraining(true)
	copy(l.weight.Data.Data, []float32{
		1, 2,
		3, 4,
	})

	x, err := tensor.FromSlice([]float32{5, 6}, 1, 2)
	require.NoError(t, err)
	l.Forward(x)

	grad, err := tensor.FromSlice([]float32{1, 2}, 1, 2)
	require.NoError(t, err)
	dx := l.Backward(grad)

	// dx = g W = [1*1+2*3, 1*2+2*4]
	assert.Equal(t, []float32{7, 10}, dx.Data)
	// dW = g^T x
	assert.Equal(t, []float32{5, 6, 10, 12}, l.weight.Grad.Data)
	// db = g
	assert.Equal(t, []float32{1, 2}, l.bias.Grad.Data)
}

func TestLinearGradientsAccumulate(t *testing.T) {
	l := NewLinear(testRNG(), 2, 1)
	l.SetTraining(true)

	x, err := tensor.FromSlice([]float32{1, 1}, 1, 2)
	require.NoError(t, err)
	grad, err := tensor.FromSlice([]float32{1}, 1, 1)
	require.NoError(t, err)

	l.Forward(x)
	l.Backward(grad)
	l.Forward(x)
	l.Backward(grad)

	assert.Equal(t, []float32{2, 2}, l.weight.Grad.Data)

	l.weight.ZeroGrad()
	assert.Equal(t, []float32{0, 0}, l.weight.Grad.Data)
}

func TestFlatten(t *testing.T) {
	l := NewFlatten()
	l.SetTraining(true)

	x := tensor.RandN(testRNG(), 1, 2, 3, 4, 4)
	out := l.Forward(x)

	assert.Equal(t, []int{2, 48}, out.Shape)

	dx := l.Backward(out)
	assert.Equal(t, []int{2, 3, 4, 4}, dx.Shape)
	assert.Equal(t, x.Data, dx.Data)
}

func TestDropout(t *testing.T) {
	t.Run("Identity in eval", func(t *testing.T) {
		l := NewDropout(testRNG(), 0.5)

		x := tensor.Full(1, 100)
		out := l.Forward(x)

		assert.Equal(t, x.Data, out.Data)
	})

	t.Run("Drops and rescales in training", func(t *testing.T) {
		l := NewDropout(testRNG(), 0.5)
		l.SetTraining(true)

		x := tensor.Full(1, 10000)
		out := l.Forward(x)

		var zeros int
		for _, v := range out.Data {
			switch v {
			case 0:
				zeros++
			default:
				assert.InDelta(t, 2.0, v, 1e-6) // 1/(1-p)
			}
		}

		// Roughly half dropped.
		assert.InDelta(t, 5000, zeros, 300)

		// Expected value preserved.
		assert.InDelta(t, 1.0, out.Mean(), 0.05)
	})

	t.Run("Backward masks gradient", func(t *testing.T) {
		l := NewDropout(testRNG(), 0.5)
		l.SetTraining(true)

		x := tensor.Full(1, 64)
		out := l.Forward(x)

		dx := l.Backward(tensor.Full(1, 64))
		for i := range dx.Data {
			if out.Data[i] == 0 {
				assert.Equal(t, float32(0), dx.Data[i])
			} else {
				assert.InDelta(t, 2.0, dx.Data[i], 1e-6)
			}
		}
	})

	t.Run("Zero rate passes through", func(t *testing.T) {
		l := NewDropout(testRNG(), 0)
		l.SetTraining(true)

		x := tensor.Full(3, 8)
		out := l.Forward(x)
		assert.Equal(t, x.Data, out.Data)

		dx := l.Backward(tensor.Full(1, 8))
		assert.Equal(t, []float32{1, 1, 1, 1, 1, 1, 1, 1}, dx.Data)
	})
}
