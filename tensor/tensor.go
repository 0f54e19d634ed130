// Package tensor implements a dense float32 tensor in row-major layout.
// Image batches use NCHW ordering (batch, channel, height, width), which is
// the layout all model packages assume.
//
// Element-wise operations mutate the receiver in place and assume matching
// shapes (caller's responsibility); constructors validate their inputs and
// return errors.
package tensor

import (
	"fmt"
	"math/rand"
	"slices"

	"github.com/hupe1980/verigo/internal/math32"
)

// Tensor is a dense float32 tensor.
//
// Data holds the elements in row-major order; len(Data) always equals the
// product of Shape. Mutating Shape or swapping Data directly breaks that
// invariant - use Reshape and the constructors instead.
type Tensor struct {
	Shape []int
	Data  []float32
}

// New creates a zero-filled tensor with the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: slices.Clone(shape),
		Data:  make([]float32, numElems(shape)),
	}
}

// Full creates a tensor with every element set to v.
func Full(v float32, shape ...int) *Tensor {
	t := New(shape...)
	math32.Fill(t.Data, v)

	return t
}

// FromSlice creates a tensor backed by data. The slice is used directly,
// not copied. Returns an error if the element count does not match the shape.
func FromSlice(data []float32, shape ...int) (*Tensor, error) {
	if len(data) != numElems(shape) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}

	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// RandN creates a tensor with elements drawn from N(0, stddev) using rng.
func RandN(rng *rand.Rand, stddev float32, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()) * stddev
	}

	return t
}

// RandUniform creates a tensor with elements drawn uniformly from [lo, hi).
func RandUniform(rng *rand.Rand, lo, hi float32, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = lo + rng.Float32()*(hi-lo)
	}

	return t
}

func numElems(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return n
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// NumElems returns the total number of elements.
func (t *Tensor) NumElems() int {
	return len(t.Data)
}

// SameShape reports whether t and other have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	return slices.Equal(t.Shape, other.Shape)
}

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: index rank %d does not match tensor rank %d", len(idx), len(t.Shape)))
	}

	off := 0
	for i, x := range idx {
		off = off*t.Shape[i] + x
	}

	return off
}

// At returns the element at the given multi-dimensional index.
func (t *Tensor) At(idx ...int) float32 {
	return t.Data[t.offset(idx)]
}

// Set stores v at the given multi-dimensional index.
func (t *Tensor) Set(v float32, idx ...int) {
	t.Data[t.offset(idx)] = v
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

// Reshape returns a view with a new shape sharing the underlying data.
// Returns an error if the element count changes.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if numElems(shape) != len(t.Data) {
		return nil, fmt.Errorf("cannot reshape %v to %v", t.Shape, shape)
	}

	return &Tensor{Shape: slices.Clone(shape), Data: t.Data}, nil
}

// Plane returns the (n, c) spatial plane of an NCHW tensor as a subslice
// view of length H*W. Mutations through the view are visible in t.
func (t *Tensor) Plane(n, c int) []float32 {
	if len(t.Shape) != 4 {
		panic(fmt.Sprintf("tensor: Plane requires rank 4, got %d", len(t.Shape)))
	}

	hw := t.Shape[2] * t.Shape[3]
	off := (n*t.Shape[1] + c) * hw

	return t.Data[off : off+hw]
}

// Row returns row i of a rank-2 tensor as a subslice view.
func (t *Tensor) Row(i int) []float32 {
	if len(t.Shape) != 2 {
		panic(fmt.Sprintf("tensor: Row requires rank 2, got %d", len(t.Shape)))
	}

	cols := t.Shape[1]

	return t.Data[i*cols : (i+1)*cols]
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float32) {
	math32.Fill(t.Data, v)
}

// Zero sets every element to zero.
func (t *Tensor) Zero() {
	math32.Fill(t.Data, 0)
}

// Add adds other element-wise in place.
func (t *Tensor) Add(other *Tensor) {
	math32.AddInPlace(t.Data, other.Data)
}

// Sub subtracts other element-wise in place.
func (t *Tensor) Sub(other *Tensor) {
	for i := range t.Data {
		t.Data[i] -= other.Data[i]
	}
}

// Mul multiplies by other element-wise in place.
func (t *Tensor) Mul(other *Tensor) {
	math32.MulInPlace(t.Data, other.Data)
}

// Scale multiplies every element by s in place.
func (t *Tensor) Scale(s float32) {
	math32.ScaleInPlace(t.Data, s)
}

// AddScalar adds s to every element in place.
func (t *Tensor) AddScalar(s float32) {
	for i := range t.Data {
		t.Data[i] += s
	}
}

// Apply replaces every element x with fn(x).
func (t *Tensor) Apply(fn func(float32) float32) {
	for i := range t.Data {
		t.Data[i] = fn(t.Data[i])
	}
}

// Sum returns the sum of all elements.
func (t *Tensor) Sum() float32 {
	return math32.Sum(t.Data)
}

// Mean returns the arithmetic mean of all elements.
// Returns 0 for an empty tensor.
func (t *Tensor) Mean() float32 {
	if len(t.Data) == 0 {
		return 0
	}

	return math32.Sum(t.Data) / float32(len(t.Data))
}

// Std returns the population standard deviation of all elements.
func (t *Tensor) Std() float32 {
	if len(t.Data) == 0 {
		return 0
	}

	mean := t.Mean()

	var ss float32
	for _, v := range t.Data {
		d := v - mean
		ss += d * d
	}

	return math32.Sqrt(ss / float32(len(t.Data)))
}

// Max returns the largest element. Panics on an empty tensor.
func (t *Tensor) Max() float32 {
	return slices.Max(t.Data)
}

// Min returns the smallest element. Panics on an empty tensor.
func (t *Tensor) Min() float32 {
	return slices.Min(t.Data)
}

// ArgMax returns the flat index of the largest element.
func (t *Tensor) ArgMax() int {
	best := 0
	for i, v := range t.Data {
		if v > t.Data[best] {
			best = i
		}
	}

	return best
}

// MatMul computes the matrix product of two rank-2 tensors: out = a @ b.
// Shapes must satisfy a=(m,k), b=(k,n); the result is (m,n).
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("matmul requires rank-2 tensors, got %v x %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("matmul shape mismatch: %v x %v", a.Shape, b.Shape)
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	out := New(m, n)

	for i := 0; i < m; i++ {
		arow := a.Data[i*k : (i+1)*k]
		orow := out.Data[i*n : (i+1)*n]

		for p := 0; p < k; p++ {
			math32.Axpy(arow[p], b.Data[p*n:(p+1)*n], orow)
		}
	}

	return out, nil
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v)", t.Shape)
}
