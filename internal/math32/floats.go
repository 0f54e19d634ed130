// Package math32 provides float32 vector kernels shared by the distance,
// tensor and nn packages. This is an internal package - external users
// should use the distance package.
package math32

import (
	"math"
	"math/bits"
)

// Dot calculates the dot product of two vectors.
// Assumes len(a) == len(b); callers must ensure lengths match.
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}

	return ret
}

// SquaredL2 calculates the squared L2 distance.
func SquaredL2(a, b []float32) float32 {
	var distance float32
	for i := range a {
		distance += (a[i] - b[i]) * (a[i] - b[i])
	}

	return distance
}

// ScaleInPlace multiplies all elements of a by scalar.
//
// This is primarily used by distance normalization.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// Axpy computes y += alpha*x element-wise.
// Assumes len(x) == len(y).
func Axpy(alpha float32, x, y []float32) {
	for i := range x {
		y[i] += alpha * x[i]
	}
}

// AddInPlace computes a += b element-wise.
func AddInPlace(a, b []float32) {
	for i := range a {
		a[i] += b[i]
	}
}

// MulInPlace computes a *= b element-wise.
func MulInPlace(a, b []float32) {
	for i := range a {
		a[i] *= b[i]
	}
}

// Fill sets all elements of a to v.
func Fill(a []float32, v float32) {
	for i := range a {
		a[i] = v
	}
}

// Sum returns the sum of all elements.
func Sum(a []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i]
	}

	return ret
}

// Sqrt returns the square root of x.
func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// Exp returns e**x.
func Exp(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float32) float32 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}

	return x
}

// Hamming counts the differing bits between two byte slices.
// Assumes slices are the same length (caller's responsibility).
func Hamming(a, b []byte) int {
	var ret int
	for i := range a {
		ret += bits.OnesCount8(a[i] ^ b[i])
	}

	return ret
}
