package nn

import (
	"math"

	"github.com/hupe1980/verigo/tensor"
)

// MaxPool2D downsamples NCHW input by taking the maximum over each
// kernel×kernel window.
type MaxPool2D struct {
	base
	kernel, stride int

	inShape []int
	argmax  []int32 // flat input index of each output element
}

// NewMaxPool2D creates a max pooling layer.
func NewMaxPool2D(kernel, stride int) *MaxPool2D {
	return &MaxPool2D{kernel: kernel, stride: stride}
}

func (l *MaxPool2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	n, c, h, w := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3)
	outH := (h-l.kernel)/l.stride + 1
	outW := (w-l.kernel)/l.stride + 1
	out := tensor.New(n, c, outH, outW)

	var argmax []int32
	if l.training {
		argmax = make([]int32, out.NumElems())
	}

	oi := 0
	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			src := x.Plane(ni, ci)
			dst := out.Plane(ni, ci)
			planeOff := (ni*c + ci) * h * w

			di := 0
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					best := float32(math.Inf(-1))
					bestIdx := 0
					for kh := 0; kh < l.kernel; kh++ {
						row := (oh*l.stride + kh) * w
						for kw := 0; kw < l.kernel; kw++ {
							idx := row + ow*l.stride + kw
							if src[idx] > best {
								best = src[idx]
								bestIdx = idx
							}
						}
					}
					dst[di] = best
					if argmax != nil {
						argmax[oi] = int32(planeOff + bestIdx)
					}
					di++
					oi++
				}
			}
		}
	}

	if l.training {
		l.inShape = x.Shape
		l.argmax = argmax
	}

	return out
}

func (l *MaxPool2D) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dx := tensor.New(l.inShape...)
	for i, g := range grad.Data {
		dx.Data[l.argmax[i]] += g
	}

	return dx
}

// GlobalAvgPool reduces NCHW input to (batch, channels) by averaging each
// spatial plane.
type GlobalAvgPool struct {
	base
	inShape []int
}

// NewGlobalAvgPool creates a global average pooling layer.
func NewGlobalAvgPool() *GlobalAvgPool {
	return &GlobalAvgPool{}
}

func (l *GlobalAvgPool) Forward(x *tensor.Tensor) *tensor.Tensor {
	n, c := x.Dim(0), x.Dim(1)
	out := tensor.New(n, c)
	inv := 1 / float32(x.Dim(2)*x.Dim(3))

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			var sum float32
			for _, v := range x.Plane(ni, ci) {
				sum += v
			}
			out.Data[ni*c+ci] = sum * inv
		}
	}

	if l.training {
		l.inShape = x.Shape
	}

	return out
}

func (l *GlobalAvgPool) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dx := tensor.New(l.inShape...)
	n, c := l.inShape[0], l.inShape[1]
	inv := 1 / float32(l.inShape[2]*l.inShape[3])

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			g := grad.Data[ni*c+ci] * inv
			plane := dx.Plane(ni, ci)
			for i := range plane {
				plane[i] = g
			}
		}
	}

	return dx
}

// GlobalMaxPool reduces NCHW input to (batch, channels) by taking the
// maximum of each spatial plane.
type GlobalMaxPool struct {
	base
	inShape []int
	argmax  []int32
}

// NewGlobalMaxPool creates a global max pooling layer.
func NewGlobalMaxPool() *GlobalMaxPool {
	return &GlobalMaxPool{}
}

func (l *GlobalMaxPool) Forward(x *tensor.Tensor) *tensor.Tensor {
	n, c := x.Dim(0), x.Dim(1)
	hw := x.Dim(2) * x.Dim(3)
	out := tensor.New(n, c)

	var argmax []int32
	if l.training {
		argmax = make([]int32, n*c)
	}

	for ni := 0; ni < n; ni++ {
		for ci := 0; ci < c; ci++ {
			plane := x.Plane(ni, ci)
			best := 0
			for i, v := range plane {
				if v > plane[best] {
					best = i
				}
			}
			out.Data[ni*c+ci] = plane[best]
			if argmax != nil {
				argmax[ni*c+ci] = int32((ni*c+ci)*hw + best)
			}
		}
	}

	if l.training {
		l.inShape = x.Shape
		l.argmax = argmax
	}

	return out
}

func (l *GlobalMaxPool) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dx := tensor.New(l.inShape...)
	for i, g := range grad.Data {
		dx.Data[l.argmax[i]] += g
	}

	return dx
}
