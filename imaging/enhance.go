package imaging

import (
	"github.com/hupe1980/verigo/tensor"
)

const (
	// DefaultClipLimit caps the per-bin histogram count during CLAHE at
	// clipLimit*tileArea/256 before redistribution.
	DefaultClipLimit = 40.0
	// DefaultGridSize is the CLAHE tile grid along each axis.
	DefaultGridSize = 8

	claheBins = 256
)

// CLAHE applies contrast limited adaptive histogram equalization to every
// channel of an NCHW tensor with values in [0, 1]. Each tile of the
// gridSize×gridSize grid is equalized against its clipped histogram and
// pixels blend the lookup tables of the four surrounding tiles bilinearly.
func CLAHE(t *tensor.Tensor, clipLimit float32, gridSize int) *tensor.Tensor {
	n, c, h, w := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	out := tensor.New(t.Shape...)

	ty, tx := gridSize, gridSize
	if ty > h {
		ty = h
	}
	if tx > w {
		tx = w
	}

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			equalizePlane(t.Plane(ni, ci), out.Plane(ni, ci), h, w, ty, tx, clipLimit)
		}
	}

	return out
}

func equalizePlane(src, dst []float32, h, w, ty, tx int, clipLimit float32) {
	// Per-tile lookup tables mapping bin -> equalized intensity.
	luts := make([][]float32, ty*tx)

	for i := 0; i < ty; i++ {
		y0, y1 := i*h/ty, (i+1)*h/ty
		for j := 0; j < tx; j++ {
			x0, x1 := j*w/tx, (j+1)*w/tx
			luts[i*tx+j] = tileLUT(src, w, y0, y1, x0, x1, clipLimit)
		}
	}

	tileH := float64(h) / float64(ty)
	tileW := float64(w) / float64(tx)

	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)/tileH - 0.5
		i0 := int(fy)
		if fy < 0 {
			i0 = 0
			fy = 0
		}
		if i0 > ty-1 {
			i0 = ty - 1
		}
		i1 := i0 + 1
		if i1 > ty-1 {
			i1 = ty - 1
		}
		wy := float32(fy - float64(i0))

		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/tileW - 0.5
			j0 := int(fx)
			if fx < 0 {
				j0 = 0
				fx = 0
			}
			if j0 > tx-1 {
				j0 = tx - 1
			}
			j1 := j0 + 1
			if j1 > tx-1 {
				j1 = tx - 1
			}
			wx := float32(fx - float64(j0))

			bin := binOf(src[y*w+x])
			top := (1-wx)*luts[i0*tx+j0][bin] + wx*luts[i0*tx+j1][bin]
			bot := (1-wx)*luts[i1*tx+j0][bin] + wx*luts[i1*tx+j1][bin]
			dst[y*w+x] = (1-wy)*top + wy*bot
		}
	}
}

func binOf(v float32) int {
	b := int(v*(claheBins-1) + 0.5)
	if b < 0 {
		return 0
	}
	if b > claheBins-1 {
		return claheBins - 1
	}

	return b
}

// tileLUT equalizes one tile: histogram, clip, redistribute, cumulate.
func tileLUT(src []float32, stride, y0, y1, x0, x1 int, clipLimit float32) []float32 {
	var hist [claheBins]float32
	area := float32((y1 - y0) * (x1 - x0))

	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			hist[binOf(src[y*stride+x])]++
		}
	}

	if clipLimit > 0 {
		clip := clipLimit * area / claheBins
		if clip < 1 {
			clip = 1
		}

		var excess float32
		for i := range hist {
			if hist[i] > clip {
				excess += hist[i] - clip
				hist[i] = clip
			}
		}

		share := excess / claheBins
		for i := range hist {
			hist[i] += share
		}
	}

	lut := make([]float32, claheBins)
	var cdf float32
	for i := range hist {
		cdf += hist[i]
		lut[i] = cdf / area
	}

	return lut
}

// MedianFilter3 applies a 3×3 median filter to every channel of an NCHW
// tensor with replicated borders, removing salt-and-pepper sensor noise.
func MedianFilter3(t *tensor.Tensor) *tensor.Tensor {
	n, c, h, w := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	out := tensor.New(t.Shape...)

	var window [9]float32
	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			src := t.Plane(ni, ci)
			dst := out.Plane(ni, ci)

			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					k := 0
					for dy := -1; dy <= 1; dy++ {
						sy := clampInt(y+dy, 0, h-1)
						for dx := -1; dx <= 1; dx++ {
							sx := clampInt(x+dx, 0, w-1)
							window[k] = src[sy*w+sx]
							k++
						}
					}
					dst[y*w+x] = median9(&window)
				}
			}
		}
	}

	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}

// median9 returns the median of 9 values by insertion sort.
func median9(w *[9]float32) float32 {
	var s [9]float32
	copy(s[:], w[:])

	for i := 1; i < 9; i++ {
		v := s[i]
		j := i - 1
		for j >= 0 && s[j] > v {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = v
	}

	return s[4]
}
