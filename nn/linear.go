package nn

import (
	"math/rand"

	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/tensor"
)

// Linear is a fully connected layer mapping (batch, in) to (batch, out)
// with weight shape (out, in) and a bias vector.
type Linear struct {
	base
	in, out int
	weight  *Parameter
	bias    *Parameter

	x *tensor.Tensor
}

// NewLinear creates a fully connected layer with He-normal initialization.
func NewLinear(rng *rand.Rand, in, out int) *Linear {
	weight := tensor.New(out, in)
	InitHeNormal(rng, weight.Data, in)

	return &Linear{
		in:     in,
		out:    out,
		weight: NewParameter("weight", weight),
		bias:   NewParameter("bias", tensor.New(out)),
	}
}

func (l *Linear) Params() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	n := x.Dim(0)
	out := tensor.New(n, l.out)

	for i := 0; i < n; i++ {
		xRow := x.Row(i)
		oRow := out.Row(i)
		for o := 0; o < l.out; o++ {
			oRow[o] = math32.Dot(l.weight.Data.Row(o), xRow) + l.bias.Data.Data[o]
		}
	}

	if l.training {
		l.x = x
	}

	return out
}

func (l *Linear) Backward(grad *tensor.Tensor) *tensor.Tensor {
	n := grad.Dim(0)
	dx := tensor.New(n, l.in)

	for i := 0; i < n; i++ {
		gRow := grad.Row(i)
		xRow := l.x.Row(i)
		dxRow := dx.Row(i)

		for o := 0; o < l.out; o++ {
			g := gRow[o]
			math32.Axpy(g, l.weight.Data.Row(o), dxRow)
			math32.Axpy(g, xRow, l.weight.Grad.Row(o))
			l.bias.Grad.Data[o] += g
		}
	}

	return dx
}

// Flatten reshapes (batch, ...) input to (batch, rest).
type Flatten struct {
	base
	inShape []int
}

// NewFlatten creates a flatten layer.
func NewFlatten() *Flatten {
	return &Flatten{}
}

func (l *Flatten) Forward(x *tensor.Tensor) *tensor.Tensor {
	out, err := x.Reshape(x.Dim(0), x.NumElems()/x.Dim(0))
	if err != nil {
		panic(err)
	}

	if l.training {
		l.inShape = x.Shape
	}

	return out
}

func (l *Flatten) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dx, err := grad.Reshape(l.inShape...)
	if err != nil {
		panic(err)
	}

	return dx
}

// Dropout zeroes elements with probability p during training, scaling the
// survivors by 1/(1-p). Inference mode is the identity.
type Dropout struct {
	base
	p   float32
	rng *rand.Rand

	mask []float32
}

// NewDropout creates a dropout layer driven by rng.
func NewDropout(rng *rand.Rand, p float32) *Dropout {
	return &Dropout{p: p, rng: rng}
}

func (l *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !l.training || l.p == 0 {
		return x
	}

	out := tensor.New(x.Shape...)
	l.mask = make([]float32, len(x.Data))
	keep := 1 / (1 - l.p)

	for i, v := range x.Data {
		if l.rng.Float32() >= l.p {
			l.mask[i] = keep
			out.Data[i] = v * keep
		}
	}

	return out
}

func (l *Dropout) Backward(grad *tensor.Tensor) *tensor.Tensor {
	if l.mask == nil {
		return grad
	}

	dx := tensor.New(grad.Shape...)
	for i, g := range grad.Data {
		dx.Data[i] = g * l.mask[i]
	}

	return dx
}
