package nn

import (
	"math/rand"

	"github.com/hupe1980/verigo/internal/math32"
)

// InitHeNormal fills t with values from N(0, sqrt(2/fanIn)), the
// initialization used for convolution and linear weights feeding ReLU.
func InitHeNormal(rng *rand.Rand, t []float32, fanIn int) {
	std := math32.Sqrt(2 / float32(fanIn))
	for i := range t {
		t[i] = float32(rng.NormFloat64()) * std
	}
}

// InitXavierUniform fills t with values from U(-a, a) where
// a = sqrt(6/(fanIn+fanOut)), used for the angular margin weight matrix.
func InitXavierUniform(rng *rand.Rand, t []float32, fanIn, fanOut int) {
	limit := math32.Sqrt(6 / float32(fanIn+fanOut))
	for i := range t {
		t[i] = (rng.Float32()*2 - 1) * limit
	}
}
