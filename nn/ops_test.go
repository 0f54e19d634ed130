package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verigo/tensor"
)

func TestConcatSplitChannels(t *testing.T) {
	rng := testRNG()
	a := tensor.RandN(rng, 1, 2, 3, 4, 4)
	b := tensor.RandN(rng, 1, 2, 5, 4, 4)

	cat := ConcatChannels(a, b)
	require.Equal(t, []int{2, 8, 4, 4}, cat.Shape)

	// First block of channels is a, second is b.
	assert.Equal(t, a.Plane(1, 2), cat.Plane(1, 2))
	assert.Equal(t, b.Plane(0, 0), cat.Plane(0, 3))

	parts := SplitChannels(cat, 3, 5)
	require.Len(t, parts, 2)
	assert.Equal(t, a.Data, parts[0].Data)
	assert.Equal(t, b.Data, parts[1].Data)
}

func TestConcatSplitFeatures(t *testing.T) {
	a, err := tensor.FromSlice([]float32{1, 2, 5, 6}, 2, 2)
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float32{3, 7}, 2, 1)
	require.NoError(t, err)

	cat := ConcatFeatures(a, b)
	require.Equal(t, []int{2, 3}, cat.Shape)
	assert.Equal(t, []float32{1, 2, 3, 5, 6, 7}, cat.Data)

	parts := SplitFeatures(cat, 2, 1)
	assert.Equal(t, a.Data, parts[0].Data)
	assert.Equal(t, b.Data, parts[1].Data)
}

func TestScaleChannels(t *testing.T) {
	x, err := tensor.FromSlice([]float32{
		1, 1, 1, 1,
		2, 2, 2, 2,
	}, 1, 2, 2, 2)
	require.NoError(t, err)

	s, err := tensor.FromSlice([]float32{3, 0.5}, 1, 2)
	require.NoError(t, err)

	out := ScaleChannels(x, s)
	assert.Equal(t, []float32{3, 3, 3, 3, 1, 1, 1, 1}, out.Data)

	grad := tensor.Full(1, 1, 2, 2, 2)
	dx, ds := ScaleChannelsBackward(x, s, grad)

	assert.Equal(t, []float32{3, 3, 3, 3, 0.5, 0.5, 0.5, 0.5}, dx.Data)
	// ds = sum(grad * x) per channel
	assert.Equal(t, []float32{4, 8}, ds.Data)
}

func TestScaleSpatial(t *testing.T) {
	x, err := tensor.FromSlice([]float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}, 1, 2, 2, 2)
	require.NoError(t, err)

	m, err := tensor.FromSlice([]float32{1, 0, 1, 0}, 1, 1, 2, 2)
	require.NoError(t, err)

	out := ScaleSpatial(x, m)
	assert.Equal(t, []float32{1, 0, 3, 0, 5, 0, 7, 0}, out.Data)

	grad := tensor.Full(1, 1, 2, 2, 2)
	dx, dm := ScaleSpatialBackward(x, m, grad)

	assert.Equal(t, []float32{1, 0, 1, 0, 1, 0, 1, 0}, dx.Data)
	// dm sums grad*x over channels.
	assert.Equal(t, []float32{6, 8, 10, 12}, dm.Data)
}

func TestChannelMeanMax(t *testing.T) {
	x, err := tensor.FromSlice([]float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
	}, 1, 2, 2, 2)
	require.NoError(t, err)

	mean := ChannelMean(x)
	require.Equal(t, []int{1, 1, 2, 2}, mean.Shape)
	assert.Equal(t, []float32{3, 4, 5, 6}, mean.Data)

	grad := tensor.Full(1, 1, 1, 2, 2)
	dMean := ChannelMeanBackward(grad, 2)
	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, dMean.Data)

	max, argmax := ChannelMax(x)
	assert.Equal(t, []float32{5, 6, 7, 8}, max.Data)
	assert.Equal(t, []int32{1, 1, 1, 1}, argmax)

	dMax := ChannelMaxBackward(grad, argmax, 2)
	assert.Equal(t, []float32{0, 0, 0, 0, 1, 1, 1, 1}, dMax.Data)
}
