package imaging

import (
	"github.com/hupe1980/verigo/tensor"
)

// ResizeBilinear resamples every channel of an NCHW tensor to outH×outW.
// With alignCorners the corner pixels of input and output coincide, the
// convention used when rescaling masks for deep supervision; without it the
// pixel-center convention is used.
func ResizeBilinear(t *tensor.Tensor, outH, outW int, alignCorners bool) *tensor.Tensor {
	n, c, h, w := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	if h == outH && w == outW {
		return t.Clone()
	}

	out := tensor.New(n, c, outH, outW)

	hLo, hHi, hwLo, hwHi := sampleAxis(h, outH, alignCorners)
	wLo, wHi, wwLo, wwHi := sampleAxis(w, outW, alignCorners)

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			src := t.Plane(ni, ci)
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

	return out
}

// sampleAxis precomputes source indices and weights for one axis.
func sampleAxis(in, out int, alignCorners bool) (lo, hi []int, wLo, wHi []float32) {
	lo = make([]int, out)
	hi = make([]int, out)
	wLo = make([]float32, out)
	wHi = make([]float32, out)

	for o := 0; o < out; o++ {
		var f float64
		if alignCorners {
			if out > 1 {
				f = float64(o) * float64(in-1) / float64(out-1)
			}
		} else {
			f = (float64(o)+0.5)*float64(in)/float64(out) - 0.5
			if f < 0 {
				f = 0
			}
		}

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

// Letterbox resizes the tensor to fit inside outH×outW preserving aspect
// ratio, centered on a black canvas. The mapping is deterministic: scale is
// the tighter of the two axis ratios and offsets round down.
func Letterbox(t *tensor.Tensor, outH, outW int) *tensor.Tensor {
	n, c, h, w := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	if h == outH && w == outW {
		return t.Clone()
	}

	scaleH := float64(outH) / float64(h)
	scaleW := float64(outW) / float64(w)
	scale := scaleH
	if scaleW < scale {
		scale = scaleW
	}

	newH := int(float64(h) * scale)
	if newH > outH {
		newH = outH
	}
	if newH < 1 {
		newH = 1
	}
	newW := int(float64(w) * scale)
	if newW > outW {
		newW = outW
	}
	if newW < 1 {
		newW = 1
	}

	resized := ResizeBilinear(t, newH, newW, false)

	out := tensor.New(n, c, outH, outW)
	offH := (outH - newH) / 2
	offW := (outW - newW) / 2

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			src := resized.Plane(ni, ci)
			dst := out.Plane(ni, ci)
			for y := 0; y < newH; y++ {
				copy(dst[(y+offH)*outW+offW:(y+offH)*outW+offW+newW], src[y*newW:(y+1)*newW])
			}
		}
	}

	return out
}
