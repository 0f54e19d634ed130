package nn

import (
	"github.com/hupe1980/verigo/tensor"
)

// UpsampleBilinear scales the spatial dimensions of NCHW input by an integer
// factor using bilinear interpolation with corner alignment, so the corner
// pixels of input and output coincide.
type UpsampleBilinear struct {
	base
	scale int

	inShape []int
}

// NewUpsampleBilinear creates a bilinear upsampling layer.
func NewUpsampleBilinear(scale int) *UpsampleBilinear {
	return &UpsampleBilinear{scale: scale}
}

// axisWeights precomputes, for every output coordinate, the two source
// coordinates and their interpolation weights under corner alignment.
func axisWeights(in, out int) (lo, hi []int, wLo, wHi []float32) {
	lo = make([]int, out)
	hi = make([]int, out)
	wLo = make([]float32, out)
	wHi = make([]float32, out)

	step := float64(0)
	if out > 1 {
		step = float64(in-1) / float64(out-1)
	}

	for o := 0; o < out; o++ {
		f := float64(o) * step
		l := int(f)
		if l > in-1 {
			l = in - 1
		}
		h := l + 1
		if h > in-1 {
			h = in - 1
		}

		lo[o], hi[o] = l, h
		wHi[o] = float32(f - float64(l))
		wLo[o] = 1 - wHi[o]
	}

	return lo, hi, wLo, wHi
}

func (l *UpsampleBilinear) Forward(x *tensor.Tensor) *tensor.Tensor {
	n, c, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	outH, outW := h*l.scale, w*l.scale
	out := tensor.New(n, c, outH, outW)

	hLo, hHi, hwLo, hwHi := axisWeights(h, outH)
	wLo, wHi, wwLo, wwHi := axisWeights(w, outW)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			src := x.Plane(ni, ci)
			dst := out.Plane(ni, ci)

			for oh := 0; oh < outH; oh++ {
				rowLo := hLo[oh] * w
				rowHi := hHi[oh] * w
				for ow := 0; ow < outW; ow++ {
					top := wwLo[ow]*src[rowLo+wLo[ow]] + wwHi[ow]*src[rowLo+wHi[ow]]
					bot := wwLo[ow]*src[rowHi+wLo[ow]] + wwHi[ow]*src[rowHi+wHi[ow]]
					dst[oh*outW+ow] = hwLo[oh]*top + hwHi[oh]*bot
				}
			}
		}
	}

	if l.training {
		l.inShape = x.Shape
	}

	return out
}

func (l *UpsampleBilinear) Backward(grad *tensor.Tensor) *tensor.Tensor {
	n, c, h, w := l.inShape[0], l.inShape[1], l.inShape[2], l.inShape[3]
	outH, outW := grad.Dim(2), grad.Dim(3)
	dx := tensor.New(l.inShape...)

	hLo, hHi, hwLo, hwHi := axisWeights(h, outH)
	wLo, wHi, wwLo, wwHi := axisWeights(w, outW)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			g := grad.Plane(ni, ci)
			d := dx.Plane(ni, ci)

			for oh := 0; oh < outH; oh++ {
				rowLo := hLo[oh] * w
				rowHi := hHi[oh] * w
				for ow := 0; ow < outW; ow++ {
					gv := g[oh*outW+ow]
					d[rowLo+wLo[ow]] += gv * hwLo[oh] * wwLo[ow]
					d[rowLo+wHi[ow]] += gv * hwLo[oh] * wwHi[ow]
					d[rowHi+wLo[ow]] += gv * hwHi[oh] * wwLo[ow]
					d[rowHi+wHi[ow]] += gv * hwHi[oh] * wwHi[ow]
				}
			}
		}
	}

	return dx
}
