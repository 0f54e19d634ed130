package nn

import (
	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/tensor"
)

// ReLU applies max(0, x) element-wise.
type ReLU struct {
	base
	y *tensor.Tensor
}

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU {
	return &ReLU{}
}

func (l *ReLU) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}

	if l.training {
		l.y = out
	}

	return out
}

func (l *ReLU) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dx := tensor.New(grad.Shape...)
	for i, v := range l.y.Data {
		if v > 0 {
			dx.Data[i] = grad.Data[i]
		}
	}

	return dx
}

// Sigmoid applies 1/(1+exp(-x)) element-wise.
type Sigmoid struct {
	base
	y *tensor.Tensor
}

// NewSigmoid creates a sigmoid activation.
func NewSigmoid() *Sigmoid {
	return &Sigmoid{}
}

// Sigmoid32 is the scalar logistic function.
func Sigmoid32(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

func (l *Sigmoid) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.New(x.Shape...)
	for i, v := range x.Data {
		out.Data[i] = Sigmoid32(v)
	}

	if l.training {
		l.y = out
	}

	return out
}

func (l *Sigmoid) Backward(grad *tensor.Tensor) *tensor.Tensor {
	dx := tensor.New(grad.Shape...)
	for i, y := range l.y.Data {
		dx.Data[i] = grad.Data[i] * y * (1 - y)
	}

	return dx
}
