// Package nn implements the neural network building blocks the perception
// models are assembled from: layers with explicit Forward/Backward passes,
// parameter containers, deterministic initialization and the loss functions
// used for training.
//
// Layers cache intermediate activations during Forward only while in
// training mode, so a model in inference mode may serve concurrent readers.
// During training, Forward/Backward pairs must run strictly sequentially on
// a single goroutine.
package nn

import (
	"github.com/hupe1980/verigo/tensor"
)

// Parameter is a learnable tensor together with its gradient accumulator.
// Grad always has the same shape as Data.
type Parameter struct {
	Name string
	Data *tensor.Tensor
	Grad *tensor.Tensor
}

// NewParameter creates a parameter backed by data with a zeroed gradient.
func NewParameter(name string, data *tensor.Tensor) *Parameter {
	return &Parameter{
		Name: name,
		Data: data,
		Grad: tensor.New(data.Shape...),
	}
}

// ZeroGrad resets the gradient accumulator.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Buffer is non-learned layer state that is persisted with checkpoints but
// never touched by optimizers, such as batch norm running statistics.
type Buffer struct {
	Name string
	Data *tensor.Tensor
}

// Layer is a differentiable unit of computation.
//
// Backward must be called after the matching Forward and receives the
// gradient of the loss with respect to the layer output; it accumulates
// parameter gradients and returns the gradient with respect to the input.
type Layer interface {
	Forward(x *tensor.Tensor) *tensor.Tensor
	Backward(grad *tensor.Tensor) *tensor.Tensor
	Params() []*Parameter
	SetTraining(training bool)
}

// Stateful is implemented by layers carrying non-learned persistent state.
type Stateful interface {
	Buffers() []*Buffer
}

// base provides the training flag shared by all layers.
type base struct {
	training bool
}

func (b *base) SetTraining(training bool) {
	b.training = training
}

func (b *base) Params() []*Parameter {
	return nil
}

// PrefixParams prepends "prefix." to every parameter name and returns the
// slice. Models call this once at construction to build globally unique
// parameter names for checkpointing.
func PrefixParams(prefix string, params []*Parameter) []*Parameter {
	for _, p := range params {
		p.Name = prefix + "." + p.Name
	}

	return params
}

// PrefixBuffers prepends "prefix." to every buffer name and returns the slice.
func PrefixBuffers(prefix string, buffers []*Buffer) []*Buffer {
	for _, b := range buffers {
		b.Name = prefix + "." + b.Name
	}

	return buffers
}

// Named prefixes a layer's parameter and buffer names and returns the
// layer, so network builders can name leaves inline.
func Named[L Layer](prefix string, l L) L {
	PrefixParams(prefix, l.Params())
	if st, ok := Layer(l).(Stateful); ok {
		PrefixBuffers(prefix, st.Buffers())
	}

	return l
}

// Sequential chains layers; Forward runs them in order, Backward in reverse.
type Sequential struct {
	base
	layers []Layer
}

// NewSequential creates a layer chain.
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{layers: layers}
}

func (s *Sequential) Forward(x *tensor.Tensor) *tensor.Tensor {
	for _, l := range s.layers {
		x = l.Forward(x)
	}

	return x
}

func (s *Sequential) Backward(grad *tensor.Tensor) *tensor.Tensor {
	for i := len(s.layers) - 1; i >= 0; i-- {
		grad = s.layers[i].Backward(grad)
	}

	return grad
}

func (s *Sequential) Params() []*Parameter {
	var params []*Parameter
	for _, l := range s.layers {
		params = append(params, l.Params()...)
	}

	return params
}

// Buffers collects persistent state from layers that carry any.
func (s *Sequential) Buffers() []*Buffer {
	var buffers []*Buffer
	for _, l := range s.layers {
		if st, ok := l.(Stateful); ok {
			buffers = append(buffers, st.Buffers()...)
		}
	}

	return buffers
}

func (s *Sequential) SetTraining(training bool) {
	s.training = training
	for _, l := range s.layers {
		l.SetTraining(training)
	}
}
