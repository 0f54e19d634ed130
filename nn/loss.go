package nn

import (
	"math"

	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/tensor"
)

// lossEps keeps probabilities away from 0 and 1 before taking logarithms.
const lossEps = 1e-7

// diceSmooth is the smoothing constant of the Dice coefficient.
const diceSmooth = 1e-7

// BCELoss computes the mean binary cross-entropy between predicted
// probabilities and targets, plus the gradient with respect to pred.
// Predictions are clamped to [lossEps, 1-lossEps].
func BCELoss(pred, target *tensor.Tensor) (float32, *tensor.Tensor) {
	grad := tensor.New(pred.Shape...)
	n := float32(pred.NumElems())

	var loss float64
	for i, p := range pred.Data {
		p = math32.Clamp(p, lossEps, 1-lossEps)
		t := target.Data[i]

		loss -= float64(t)*math.Log(float64(p)) + float64(1-t)*math.Log(float64(1-p))
		grad.Data[i] = (p - t) / (p * (1 - p) * n)
	}

	return float32(loss) / n, grad
}

// MSELoss computes the mean squared error and its gradient with respect
// to pred.
func MSELoss(pred, target *tensor.Tensor) (float32, *tensor.Tensor) {
	grad := tensor.New(pred.Shape...)
	n := float32(pred.NumElems())

	var loss float64
	for i, p := range pred.Data {
		d := p - target.Data[i]
		loss += float64(d) * float64(d)
		grad.Data[i] = 2 * d / n
	}

	return float32(loss) / n, grad
}

// SoftmaxCrossEntropy computes the mean cross-entropy of row-wise softmax
// over logits (batch, classes) against integer labels, plus the gradient
// with respect to the logits.
func SoftmaxCrossEntropy(logits *tensor.Tensor, labels []int) (float32, *tensor.Tensor) {
	n, _ := logits.Dim(0), logits.Dim(1)
	grad := tensor.New(logits.Shape...)

	var loss float64
	for i := 0; i < n; i++ {
		row := logits.Row(i)
		gRow := grad.Row(i)

		max := row[0]
		for _, v := range row {
			if v > max {
				max = v
			}
		}

		var sum float32
		for j, v := range row {
			e := math32.Exp(v - max)
			gRow[j] = e
			sum += e
		}

		inv := 1 / sum
		for j := range gRow {
			gRow[j] *= inv
		}

		p := math32.Clamp(gRow[labels[i]], lossEps, 1)
		loss -= math.Log(float64(p))

		gRow[labels[i]] -= 1
		math32.ScaleInPlace(gRow, 1/float32(n))
	}

	return float32(loss) / float32(n), grad
}

// ArgMaxRows returns the index of the largest value in each row of a rank-2
// tensor, the predicted class per sample.
func ArgMaxRows(t *tensor.Tensor) []int {
	n := t.Dim(0)
	out := make([]int, n)

	for i := 0; i < n; i++ {
		row := t.Row(i)
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		out[i] = best
	}

	return out
}

// DiceScore computes the Dice coefficient between a predicted mask,
// binarized at 0.5, and a binary target mask. Identical non-empty masks
// score 1 up to the smoothing constant.
func DiceScore(pred, target *tensor.Tensor) float32 {
	var intersection, predSum, targetSum float32

	for i, p := range pred.Data {
		b := float32(0)
		if p > 0.5 {
			b = 1
		}
		t := target.Data[i]

		intersection += b * t
		predSum += b
		targetSum += t
	}

	return (2*intersection + diceSmooth) / (predSum + targetSum + diceSmooth)
}
