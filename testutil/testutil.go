package testutil

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/verigo/model"
	"github.com/hupe1980/verigo/tensor"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)), // nolint gosec
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed)) // nolint gosec
}

// Float32 returns a uniform value in [0, 1).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rand.Float32()
}

// Intn returns a uniform value in [0, n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rand.Intn(n)
}

// FillUniform fills vec with uniform values in [0, 1).
func (r *RNG) FillUniform(vec []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range vec {
		vec[i] = r.rand.Float32()
	}
}

// FillGaussian fills vec with standard normal values.
func (r *RNG) FillGaussian(vec []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range vec {
		vec[i] = float32(r.rand.NormFloat64())
	}
}

// GradientImage returns a deterministic RGBA image with smooth color
// gradients. Two calls with the same dimensions return identical
// pixels, so encoder outputs are reproducible across runs.
func GradientImage(w, h int) image.Image {
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

// NoiseImage returns an RGBA image of uniform pixel noise drawn from
// the RNG. Distinct seeds give statistically unrelated images.
func NoiseImage(rng *RNG, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}

	return img
}

// DiskMask returns an HxW mask tensor that is 1 inside the disk of the
// given center and radius and 0 outside, approximating an ideal iris
// segmentation target.
func DiskMask(h, w int, cy, cx, radius float64) *tensor.Tensor {
	mask := tensor.New(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dy := float64(y) - cy
			dx := float64(x) - cx
			if math.Sqrt(dy*dy+dx*dx) <= radius {
				mask.Data[y*w+x] = 1
			}
		}
	}

	return mask
}

// UnitEmbedding returns a random L2-normalized embedding for the given
// modality, dimension and model version.
func UnitEmbedding(rng *RNG, m model.Modality, dim int, version string) *model.Embedding {
	vec := make([]float32, dim)
	rng.FillGaussian(vec)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	if sum > 0 {
		inv := float32(1 / math.Sqrt(sum))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return &model.Embedding{
		Modality:     m,
		Vector:       vec,
		ModelVersion: version,
	}
}
