package antispoof

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verigo/tensor"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(42)) // nolint gosec
}

// tinyConfig keeps forward passes cheap in tests.
func tinyConfig() Config {
	cfg := DefaultConfig()
	cfg.InputSize = 32
	cfg.Channels = []int{4, 8}

	return cfg
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: uint8((x + y) * 255 / (w + h)),
				A: 255,
			})
		}
	}

	return img
}

func TestNew(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		d, err := New(Config{})
		require.NoError(t, err)

		assert.Equal(t, 256, d.Config().InputSize)
		assert.Equal(t, []int{64, 128, 256, 512}, d.Config().Channels)
		assert.Equal(t, float32(0.95), d.Config().SpoofThreshold)
		assert.Equal(t, Kind, d.Name())
	})

	t.Run("Version tracks architecture only", func(t *testing.T) {
		d1, err := New(tinyConfig())
		require.NoError(t, err)

		cfg := tinyConfig()
		cfg.Seed = 7
		cfg.SpoofThreshold = 0.5
		d2, err := New(cfg)
		require.NoError(t, err)

		assert.Equal(t, d1.Version(), d2.Version())

		cfg = tinyConfig()
		cfg.Channels = []int{8, 16}
		d3, err := New(cfg)
		require.NoError(t, err)

		assert.NotEqual(t, d1.Version(), d3.Version())
	})

	t.Run("Same seed same weights", func(t *testing.T) {
		d1, err := New(tinyConfig())
		require.NoError(t, err)
		d2, err := New(tinyConfig())
		require.NoError(t, err)

		p1 := d1.Parameters()
		p2 := d2.Parameters()
		require.Equal(t, len(p1), len(p2))

		for i := range p1 {
			assert.Equal(t, p1[i].Name, p2[i].Name)
			assert.Equal(t, p1[i].Data.Data, p2[i].Data.Data)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		cfg := tinyConfig()
		cfg.InputSize = 30
		_, err := New(cfg)
		assert.Error(t, err)

		cfg = tinyConfig()
		cfg.Dropout = 1.5
		_, err = New(cfg)
		assert.Error(t, err)

		cfg = tinyConfig()
		cfg.SpoofThreshold = 2
		_, err = New(cfg)
		assert.Error(t, err)
	})

	t.Run("DepthSize", func(t *testing.T) {
		assert.Equal(t, 16, DefaultConfig().DepthSize())
		assert.Equal(t, 8, tinyConfig().DepthSize())
	})
}

func TestCheckLiveness(t *testing.T) {
	d, err := New(tinyConfig())
	require.NoError(t, err)

	t.Run("Result shape", func(t *testing.T) {
		res, err := d.CheckLiveness(context.Background(), testImage(40, 30))
		require.NoError(t, err)

		assert.GreaterOrEqual(t, res.Confidence, float32(0))
		assert.LessOrEqual(t, res.Confidence, float32(1))
		assert.Equal(t, res.IsReal, res.Confidence > d.Config().SpoofThreshold)
		assert.Equal(t, []int{1, 1, 8, 8}, res.DepthMap.Shape)
		assert.Equal(t, []int{1, 1, 8, 8}, res.AttentionMap.Shape)
	})

	t.Run("Deterministic", func(t *testing.T) {
		r1, err := d.CheckLiveness(context.Background(), testImage(40, 30))
		require.NoError(t, err)
		r2, err := d.CheckLiveness(context.Background(), testImage(40, 30))
		require.NoError(t, err)

		assert.Equal(t, r1.Confidence, r2.Confidence)
	})

	t.Run("Nil image", func(t *testing.T) {
		_, err := d.CheckLiveness(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := d.CheckLiveness(ctx, testImage(8, 8))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestTrainStep(t *testing.T) {
	cfg := tinyConfig()
	d, err := New(cfg)
	require.NoError(t, err)

	rng := testRNG()
	n := 4
	s := cfg.InputSize
	ds := cfg.DepthSize()

	images := tensor.RandUniform(rng, 0, 1, n, 3, s, s)
	labels, err := tensor.FromSlice([]float32{1, 0, 1, 0}, n, 1)
	require.NoError(t, err)

	// Genuine samples get a depth pattern, spoofs stay flat.
	depths := tensor.New(n, 1, ds, ds)
	for i := 0; i < n; i += 2 {
		plane := depths.Plane(i, 0)
		for j := range plane {
			plane[j] = 0.5
		}
	}

	t.Run("Gradients flow", func(t *testing.T) {
		res, err := d.TrainStep(images, labels, depths)
		require.NoError(t, err)

		assert.False(t, math.IsNaN(float64(res.Loss)))
		assert.Greater(t, res.Loss, float32(0))
		assert.Equal(t, []int{n, 1}, res.Predictions.Shape)
		assert.Equal(t, []int{n, 1, ds, ds}, res.DepthMaps.Shape)

		nonzero := 0
		for _, p := range d.Parameters() {
			for _, g := range p.Grad.Data {
				if g != 0 {
					nonzero++
					break
				}
			}
		}

		// Every layer sits on the gradient path for at least one head.
		assert.Greater(t, nonzero, len(d.Parameters())/2)
	})

	t.Run("Loss decreases under gradient descent", func(t *testing.T) {
		first, err := d.TrainStep(images, labels, depths)
		require.NoError(t, err)

		loss := first.Loss
		for step := 0; step < 8; step++ {
			for _, p := range d.Parameters() {
				for i := range p.Data.Data {
					p.Data.Data[i] -= 0.01 * p.Grad.Data[i]
				}
			}

			res, err := d.TrainStep(images, labels, depths)
			require.NoError(t, err)
			loss = res.Loss
		}

		assert.Less(t, loss, first.Loss)
	})

	t.Run("Shape validation", func(t *testing.T) {
		_, err := d.TrainStep(tensor.New(n, 1, s, s), labels, depths)
		assert.Error(t, err)

		_, err = d.TrainStep(images, tensor.New(n, 2), depths)
		assert.Error(t, err)

		_, err = d.TrainStep(images, labels, tensor.New(n, 1, 3, 3))
		assert.Error(t, err)
	})
}

func TestEvaluate(t *testing.T) {
	cfg := tinyConfig()
	d, err := New(cfg)
	require.NoError(t, err)

	images := tensor.RandUniform(testRNG(), 0, 1, 2, 3, cfg.InputSize, cfg.InputSize)

	ones := tensor.Full(1, 2, 1)
	zeros := tensor.New(2, 1)

	accReal, err := d.Evaluate(images, ones)
	require.NoError(t, err)
	accSpoof, err := d.Evaluate(images, zeros)
	require.NoError(t, err)

	// Every prediction is either counted for the all-ones labels or the
	// all-zeros labels.
	assert.InDelta(t, 1.0, accReal+accSpoof, 1e-6)
}

func TestCheckpointRoundTrip(t *testing.T) {
	cfg := tinyConfig()

	d1, err := New(cfg)
	require.NoError(t, err)

	// Different weights, same architecture.
	cfg2 := tinyConfig()
	cfg2.Seed = 99
	d2, err := New(cfg2)
	require.NoError(t, err)

	img := testImage(32, 32)

	r1, err := d1.CheckLiveness(context.Background(), img)
	require.NoError(t, err)
	before, err := d2.CheckLiveness(context.Background(), img)
	require.NoError(t, err)
	require.NotEqual(t, r1.Confidence, before.Confidence)

	path := filepath.Join(t.TempDir(), "antispoof.ckpt")
	require.NoError(t, d1.SaveCheckpoint(path))
	require.NoError(t, d2.LoadCheckpoint(path))

	after, err := d2.CheckLiveness(context.Background(), img)
	require.NoError(t, err)

	assert.Equal(t, r1.Confidence, after.Confidence)
}
