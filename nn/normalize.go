package nn

import (
	"math"

	"github.com/hupe1980/verigo/tensor"
)

// normEps floors row norms so zero rows do not divide by zero, matching
// the usual x / max(||x||, eps) formulation.
const normEps = 1e-12

// L2NormalizeRows scales each row of a rank-2 tensor to unit length. The
// returned norms (pre-clamp) feed the backward pass.
func L2NormalizeRows(x *tensor.Tensor) (*tensor.Tensor, []float32) {
	n := x.Dim(0)
	d := x.Dim(1)

	out := tensor.New(x.Shape...)
	norms := make([]float32, n)

	for i := 0; i < n; i++ {
		row := x.Row(i)
		var sum float64
		for _, v := range row {
			sum += float64(v) * float64(v)
		}

		norm := float32(math.Sqrt(sum))
		norms[i] = norm

		if norm < normEps {
			norm = normEps
		}

		dst := out.Row(i)
		inv := 1 / norm
		for j := 0; j < d; j++ {
			dst[j] = row[j] * inv
		}
	}

	return out, norms
}

// L2NormalizeRowsBackward routes a gradient through L2NormalizeRows.
// normalized and norms are the forward outputs.
func L2NormalizeRowsBackward(grad, normalized *tensor.Tensor, norms []float32) *tensor.Tensor {
	n := grad.Dim(0)
	d := grad.Dim(1)

	dx := tensor.New(grad.Shape...)

	for i := 0; i < n; i++ {
		g := grad.Row(i)
		y := normalized.Row(i)
		dst := dx.Row(i)

		norm := norms[i]
		if norm < normEps {
			norm = normEps
		}
		inv := 1 / norm

		// dx = (g - (g.y) y) / ||x||
		var dot float32
		for j := 0; j < d; j++ {
			dot += g[j] * y[j]
		}

		for j := 0; j < d; j++ {
			dst[j] = (g[j] - dot*y[j]) * inv
		}
	}

	return dx
}
