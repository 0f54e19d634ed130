package nn

import (
	"fmt"
	"math/rand"

	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/tensor"
)

// Conv2DConfig describes a 2D convolution. Stride defaults to 1 when zero;
// bias is included unless NoBias is set.
type Conv2DConfig struct {
	In      int
	Out     int
	Kernel  int
	Stride  int
	Padding int
	NoBias  bool
}

// Conv2D is a 2D convolution over NCHW input with He-normal initialized
// weights of shape (out, in, kernel, kernel).
type Conv2D struct {
	base
	cfg    Conv2DConfig
	weight *Parameter
	bias   *Parameter // nil when NoBias

	x *tensor.Tensor // cached input (training only)
}

// NewConv2D creates a convolution layer with deterministic initialization
// drawn from rng.
func NewConv2D(rng *rand.Rand, cfg Conv2DConfig) *Conv2D {
	if cfg.Stride == 0 {
		cfg.Stride = 1
	}

	weight := tensor.New(cfg.Out, cfg.In, cfg.Kernel, cfg.Kernel)
	InitHeNormal(rng, weight.Data, cfg.In*cfg.Kernel*cfg.Kernel)

	l := &Conv2D{
		cfg:    cfg,
		weight: NewParameter("weight", weight),
	}
	if !cfg.NoBias {
		l.bias = NewParameter("bias", tensor.New(cfg.Out))
	}

	return l
}

func (l *Conv2D) Params() []*Parameter {
	if l.bias == nil {
		return []*Parameter{l.weight}
	}

	return []*Parameter{l.weight, l.bias}
}

// OutSize returns the spatial output size for the given input size.
func (l *Conv2D) OutSize(h, w int) (int, int) {
	outH := (h+2*l.cfg.Padding-l.cfg.Kernel)/l.cfg.Stride + 1
	outW := (w+2*l.cfg.Padding-l.cfg.Kernel)/l.cfg.Stride + 1

	return outH, outW
}

func (l *Conv2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	if x.Dim(1) != l.cfg.In {
		panic(fmt.Sprintf("nn: conv input has %d channels, want %d", x.Dim(1), l.cfg.In))
	}

	n, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	outH, outW := l.OutSize(h, w)
	out := tensor.New(n, l.cfg.Out, outH, outW)

	k, s, p := l.cfg.Kernel, l.cfg.Stride, l.cfg.Padding
	wD := l.weight.Data.Data

	for ni := 0; ni < n; ni++ {
		for oc := 0; oc < l.cfg.Out; oc++ {
			dst := out.Plane(ni, oc)
			if l.bias != nil {
				math32.Fill(dst, l.bias.Data.Data[oc])
			}

			for ic := 0; ic < l.cfg.In; ic++ {
				src := x.Plane(ni, ic)
				wOff := ((oc*l.cfg.In + ic) * k) * k

				for kh := 0; kh < k; kh++ {
					for kw := 0; kw < k; kw++ {
						wv := wD[wOff+kh*k+kw]
						ohLo, ohHi := validRange(h, outH, s, p, kh)
						owLo, owHi := validRange(w, outW, s, p, kw)

						for oh := ohLo; oh < ohHi; oh++ {
							ih := oh*s - p + kh
							dstRow := dst[oh*outW+owLo : oh*outW+owHi]
							if s == 1 {
								iw := owLo - p + kw
								math32.Axpy(wv, src[ih*w+iw:ih*w+iw+len(dstRow)], dstRow)
								continue
							}
							for ow := owLo; ow < owHi; ow++ {
								iw := ow*s - p + kw
								dst[oh*outW+ow] += wv * src[ih*w+iw]
							}
						}
					}
				}
			}
		}
	}

	if l.training {
		l.x = x
	}

	return out
}

// validRange returns the half-open output range [lo, hi) for which the input
// coordinate o*stride - pad + kOff stays inside [0, in).
func validRange(in, out, stride, pad, kOff int) (int, int) {
	lo := 0
	if pad > kOff {
		lo = (pad - kOff + stride - 1) / stride
	}

	hi := out
	if maxIn := in - 1 + pad - kOff; maxIn/stride+1 < hi {
		hi = maxIn/stride + 1
	}
	if hi < lo {
		hi = lo
	}

	return lo, hi
}

func (l *Conv2D) Backward(grad *tensor.Tensor) *tensor.Tensor {
	x := l.x
	n, h, w := x.Dim(0), x.Dim(2), x.Dim(3)
	outH, outW := grad.Dim(2), grad.Dim(3)

	k, s, p := l.cfg.Kernel, l.cfg.Stride, l.cfg.Padding
	wD := l.weight.Data.Data
	dwD := l.weight.Grad.Data
	dx := tensor.New(x.Shape...)

	for ni := 0; ni < n; ni++ {
		for oc := 0; oc < l.cfg.Out; oc++ {
			g := grad.Plane(ni, oc)

			if l.bias != nil {
				l.bias.Grad.Data[oc] += math32.Sum(g)
			}

			for ic := 0; ic < l.cfg.In; ic++ {
				src := x.Plane(ni, ic)
				dsrc := dx.Plane(ni, ic)
				wOff := ((oc*l.cfg.In + ic) * k) * k

				for kh := 0; kh < k; kh++ {
					for kw := 0; kw < k; kw++ {
						wv := wD[wOff+kh*k+kw]
						var dw float32

						ohLo, ohHi := validRange(h, outH, s, p, kh)
						owLo, owHi := validRange(w, outW, s, p, kw)

						for oh := ohLo; oh < ohHi; oh++ {
							ih := oh*s - p + kh
							gRow := g[oh*outW+owLo : oh*outW+owHi]
							if s == 1 {
								iw := owLo - p + kw
								srcRow := src[ih*w+iw : ih*w+iw+len(gRow)]
								dsrcRow := dsrc[ih*w+iw : ih*w+iw+len(gRow)]
								dw += math32.Dot(gRow, srcRow)
								math32.Axpy(wv, gRow, dsrcRow)
								continue
							}
							for ow := owLo; ow < owHi; ow++ {
								iw := ow*s - p + kw
								gv := g[oh*outW+ow]
								dw += gv * src[ih*w+iw]
								dsrc[ih*w+iw] += wv * gv
							}
						}

						dwD[wOff+kh*k+kw] += dw
					}
				}
			}
		}
	}

	return dx
}
