package faceid

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

	"github.com/hupe1980/verigo/model"
	"github.com/hupe1980/verigo/nn"
	"github.com/hupe1980/verigo/tensor"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(42)) // nolint gosec
}

// tinyConfig keeps forward passes cheap in tests.
func tinyConfig() Config {
	cfg := DefaultConfig()
	cfg.InputSize = 16
	cfg.Widths = []int{4, 8}
	cfg.Hidden = 16
	cfg.EmbeddingSize = 8
	cfg.NumClasses = 4
	cfg.Scale = 8
	cfg.Dropout = 0.1
	cfg.Reduction = 4

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
		e, err := New(Config{})
		require.NoError(t, err)

		assert.Equal(t, 256, e.Config().InputSize)
		assert.Equal(t, []int{64, 128, 256, 512}, e.Config().Widths)
		assert.Equal(t, 512, e.Config().EmbeddingSize)
		assert.Equal(t, float32(0.85), e.Config().MatchThreshold)
		assert.Equal(t, Kind, e.Name())
	})

	t.Run("Version tracks architecture only", func(t *testing.T) {
		e1, err := New(tinyConfig())
		require.NoError(t, err)

		// Training knobs and the identity set size leave the embedding
		// function alone.
		cfg := tinyConfig()
		cfg.Seed = 7
		cfg.Margin = 0.3
		cfg.NumClasses = 99
		cfg.MatchThreshold = 0.5
		e2, err := New(cfg)
		require.NoError(t, err)

		assert.Equal(t, e1.Version(), e2.Version())

		cfg = tinyConfig()
		cfg.EmbeddingSize = 16
		e3, err := New(cfg)
		require.NoError(t, err)

		assert.NotEqual(t, e1.Version(), e3.Version())
	})

	t.Run("Same seed same weights", func(t *testing.T) {
		e1, err := New(tinyConfig())
		require.NoError(t, err)
		e2, err := New(tinyConfig())
		require.NoError(t, err)

		p1 := e1.Parameters()
		p2 := e2.Parameters()
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
		cfg.Widths = []int{4, 6}
		_, err = New(cfg)
		assert.Error(t, err)

		cfg = tinyConfig()
		cfg.Margin = 2
		_, err = New(cfg)
		assert.Error(t, err)

		cfg = tinyConfig()
		cfg.NumClasses = 1
		_, err = New(cfg)
		assert.Error(t, err)

		cfg = tinyConfig()
		cfg.MatchThreshold = 2
		_, err = New(cfg)
		assert.Error(t, err)
	})
}

func TestEmbed(t *testing.T) {
	e, err := New(tinyConfig())
	require.NoError(t, err)

	t.Run("Unit norm and tagging", func(t *testing.T) {
		emb, err := e.Embed(context.Background(), testImage(40, 30))
		require.NoError(t, err)

		assert.Equal(t, model.ModalityFace, emb.Modality)
		assert.Equal(t, e.Version(), emb.ModelVersion)
		require.Len(t, emb.Vector, e.Config().EmbeddingSize)

		var norm float64
		for _, v := range emb.Vector {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	})

	t.Run("Deterministic", func(t *testing.T) {
		e1, err := e.Embed(context.Background(), testImage(40, 30))
		require.NoError(t, err)
		e2, err := e.Embed(context.Background(), testImage(40, 30))
		require.NoError(t, err)

		assert.Equal(t, e1.Vector, e2.Vector)
	})

	t.Run("Nil image", func(t *testing.T) {
		_, err := e.Embed(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := e.Embed(ctx, testImage(8, 8))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCompare(t *testing.T) {
	e, err := New(tinyConfig())
	require.NoError(t, err)

	a, err := e.Embed(context.Background(), testImage(32, 32))
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), testImage(24, 40))
	require.NoError(t, err)

	t.Run("Self similarity is one", func(t *testing.T) {
		sim, err := e.Compare(a, a)
		require.NoError(t, err)

		assert.InDelta(t, 1.0, sim, 1e-5)
	})

	t.Run("Symmetric", func(t *testing.T) {
		ab, err := e.Compare(a, b)
		require.NoError(t, err)
		ba, err := e.Compare(b, a)
		require.NoError(t, err)

		assert.InDelta(t, ab, ba, 1e-6)
		assert.LessOrEqual(t, ab, float32(1)+1e-6)
		assert.GreaterOrEqual(t, ab, float32(-1)-1e-6)
	})

	t.Run("Modality mismatch", func(t *testing.T) {
		iris := &model.Embedding{
			Modality:     model.ModalityIris,
			Vector:       a.Vector,
			ModelVersion: a.ModelVersion,
		}

		_, err := e.Compare(a, iris)
		assert.Error(t, err)
	})

	t.Run("Version mismatch", func(t *testing.T) {
		other := &model.Embedding{
			Modality:     model.ModalityFace,
			Vector:       b.Vector,
			ModelVersion: "faceid-other",
		}

		_, err := e.Compare(a, other)
		assert.Error(t, err)
	})

	t.Run("Nil embedding", func(t *testing.T) {
		_, err := e.Compare(a, nil)
		assert.Error(t, err)
	})
}

func TestArcMargin(t *testing.T) {
	t.Run("Off-target logits are scaled cosines", func(t *testing.T) {
		am := NewArcMargin(testRNG(), 4, 3, 2, 0.5)

		emb, err := tensor.FromSlice([]float32{
			1, 0, 0, 0,
			0, 0.6, 0.8, 0,
		}, 2, 4)
		require.NoError(t, err)

		labels := []int{0, 1}
		logits := am.Logits(emb, labels)
		cos := am.Cosine(emb)

		for i := 0; i < 2; i++ {
			for j := 0; j < 3; j++ {
				if j == labels[i] {
					assert.Less(t, logits.At(i, j), 2*cos.At(i, j),
						"margin must lower the target logit")
				} else {
					assert.InDelta(t, 2*cos.At(i, j), logits.At(i, j), 1e-5)
				}
			}
		}
	})

	t.Run("Aligned target gets the full margin", func(t *testing.T) {
		am := NewArcMargin(testRNG(), 2, 2, 2, 0.5)

		// Class weights on the axes, embedding on class 0.
		copy(am.Param().Data.Row(0), []float32{1, 0})
		copy(am.Param().Data.Row(1), []float32{0, 1})

		emb, err := tensor.FromSlice([]float32{1, 0}, 1, 2)
		require.NoError(t, err)

		logits := am.Logits(emb, []int{0})

		// theta = 0, so the target logit is scale * cos(margin).
		assert.InDelta(t, 2*math.Cos(0.5), logits.At(0, 0), 1e-5)
		assert.InDelta(t, 0, logits.At(0, 1), 1e-5)
	})

	t.Run("Fallback past pi stays linear", func(t *testing.T) {
		am := NewArcMargin(testRNG(), 2, 2, 2, 0.5)

		// The target weight points away from the embedding, so
		// theta + margin would pass pi.
		copy(am.Param().Data.Row(0), []float32{-1, 0})
		copy(am.Param().Data.Row(1), []float32{0, 1})

		emb, err := tensor.FromSlice([]float32{1, 0}, 1, 2)
		require.NoError(t, err)

		logits := am.Logits(emb, []int{0})

		mm := math.Sin(math.Pi-0.5) * 0.5
		assert.InDelta(t, 2*(-1-mm), logits.At(0, 0), 1e-5)
	})

	t.Run("Weight gradient stays tangent to the sphere", func(t *testing.T) {
		am := NewArcMargin(testRNG(), 3, 3, 2, 0.5)

		emb, err := tensor.FromSlice([]float32{
			0.5, -0.3, 0.2,
			-0.1, 0.4, 0.6,
		}, 2, 3)
		require.NoError(t, err)

		labels := []int{0, 2}
		logits := am.Logits(emb, labels)

		_, dLogits := nn.SoftmaxCrossEntropy(logits, labels)
		am.Backward(dLogits)

		// Renormalizing the rows absorbs any radial component, so the
		// accumulated gradient must be orthogonal to each weight row.
		for j := 0; j < 3; j++ {
			var dot float32
			w := am.Param().Data.Row(j)
			g := am.Param().Grad.Row(j)
			for k := range w {
				dot += w[k] * g[k]
			}
			assert.InDelta(t, 0, dot, 1e-4)
		}
	})

	t.Run("Embedding gradient matches finite differences", func(t *testing.T) {
		am := NewArcMargin(testRNG(), 3, 3, 2, 0.5)

		emb, err := tensor.FromSlice([]float32{
			0.5, -0.3, 0.2,
			-0.1, 0.4, 0.6,
		}, 2, 3)
		require.NoError(t, err)

		labels := []int{0, 2}

		loss := func(x *tensor.Tensor) float32 {
			l, _ := nn.SoftmaxCrossEntropy(am.Logits(x, labels), labels)
			return l
		}

		logits := am.Logits(emb, labels)
		_, dLogits := nn.SoftmaxCrossEntropy(logits, labels)
		dEmb := am.Backward(dLogits)

		const h = 1e-2
		for i := 0; i < 2; i++ {
			for k := 0; k < 3; k++ {
				plus := emb.Clone()
				plus.Set(plus.At(i, k)+h, i, k)

				minus := emb.Clone()
				minus.Set(minus.At(i, k)-h, i, k)

				numeric := (loss(plus) - loss(minus)) / (2 * h)
				assert.InDelta(t, numeric, dEmb.At(i, k), 2e-2)
			}
		}
	})
}

func TestTrainStep(t *testing.T) {
	cfg := tinyConfig()
	e, err := New(cfg)
	require.NoError(t, err)

	rng := testRNG()
	n := 4
	s := cfg.InputSize

	images := tensor.RandUniform(rng, 0, 1, n, 3, s, s)
	labels := []int{0, 1, 2, 3}

	t.Run("Gradients flow", func(t *testing.T) {
		res, err := e.TrainStep(images, labels)
		require.NoError(t, err)

		assert.False(t, math.IsNaN(float64(res.Loss)))
		assert.Greater(t, res.Loss, float32(0))
		assert.Equal(t, []int{n, cfg.EmbeddingSize}, res.Embeddings.Shape)

		// The normalization layer is last, so every training embedding
		// is unit length too.
		for i := 0; i < n; i++ {
			var norm float64
			for _, v := range res.Embeddings.Row(i) {
				norm += float64(v) * float64(v)
			}
			assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-4)
		}

		nonzero := 0
		for _, p := range e.Parameters() {
			for _, g := range p.Grad.Data {
				if g != 0 {
					nonzero++
					break
				}
			}
		}

		assert.Greater(t, nonzero, len(e.Parameters())/2)
	})

	t.Run("Loss decreases under gradient descent", func(t *testing.T) {
		first, err := e.TrainStep(images, labels)
		require.NoError(t, err)

		loss := first.Loss
		for step := 0; step < 8; step++ {
			for _, p := range e.Parameters() {
				for i := range p.Data.Data {
					p.Data.Data[i] -= 0.01 * p.Grad.Data[i]
				}
			}

			res, err := e.TrainStep(images, labels)
			require.NoError(t, err)
			loss = res.Loss
		}

		assert.Less(t, loss, first.Loss)
	})

	t.Run("Label validation", func(t *testing.T) {
		_, err := e.TrainStep(images, []int{0, 1})
		assert.Error(t, err)

		_, err = e.TrainStep(images, []int{0, 1, 2, 99})
		assert.Error(t, err)
	})

	t.Run("Shape validation", func(t *testing.T) {
		_, err := e.TrainStep(tensor.New(n, 1, s, s), labels)
		assert.Error(t, err)
	})
}

func TestEvaluate(t *testing.T) {
	cfg := tinyConfig()
	e, err := New(cfg)
	require.NoError(t, err)

	images := tensor.RandUniform(testRNG(), 0, 1, 3, 3, cfg.InputSize, cfg.InputSize)
	labels := []int{0, 1, 2}

	acc1, err := e.Evaluate(images, labels)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, acc1, float32(0))
	assert.LessOrEqual(t, acc1, float32(1))

	acc2, err := e.Evaluate(images, labels)
	require.NoError(t, err)

	assert.Equal(t, acc1, acc2)
}

func TestCheckpointRoundTrip(t *testing.T) {
	cfg := tinyConfig()

	e1, err := New(cfg)
	require.NoError(t, err)

	// Different weights, same architecture.
	cfg2 := tinyConfig()
	cfg2.Seed = 99
	e2, err := New(cfg2)
	require.NoError(t, err)

	img := testImage(32, 32)

	r1, err := e1.Embed(context.Background(), img)
	require.NoError(t, err)
	before, err := e2.Embed(context.Background(), img)
	require.NoError(t, err)
	require.NotEqual(t, r1.Vector, before.Vector)

	path := filepath.Join(t.TempDir(), "faceid.ckpt")
	require.NoError(t, e1.SaveCheckpoint(path))
	require.NoError(t, e2.LoadCheckpoint(path))

	after, err := e2.Embed(context.Background(), img)
	require.NoError(t, err)

	assert.Equal(t, r1.Vector, after.Vector)
}
