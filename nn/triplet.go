package nn

import (
	"github.com/hupe1980/verigo/internal/math32"
	"github.com/hupe1980/verigo/tensor"
)

// largeDist pushes same-label pairs out of the hardest-negative search.
const largeDist = 1e5

// BatchHardTripletLoss computes the batch-hard triplet loss over a batch of
// embeddings (batch, dim) with integer identity labels: for every anchor the
// hardest (farthest) positive and hardest (nearest) negative are selected
// from the batch and the loss is mean(relu(hardestPos - hardestNeg + margin)).
//
// Returns the loss and its gradient with respect to the embeddings. The loss
// is zero when every anchor's hardest positive is at least margin closer
// than its hardest negative.
func BatchHardTripletLoss(embeddings *tensor.Tensor, labels []int, margin float32) (float32, *tensor.Tensor) {
	n := embeddings.Dim(0)
	grad := tensor.New(embeddings.Shape...)

	// Pairwise Euclidean distances.
	dist := make([][]float32, n)
	for i := range dist {
		dist[i] = make([]float32, n)
		for j := 0; j < i; j++ {
			d := math32.Sqrt(math32.SquaredL2(embeddings.Row(i), embeddings.Row(j)))
			dist[i][j] = d
			dist[j][i] = d
		}
	}

	var total float32
	scale := 1 / float32(n)

	for i := 0; i < n; i++ {
		hardestPos, posIdx := float32(0), i
		hardestNeg, negIdx := float32(largeDist+1), -1

		for j := 0; j < n; j++ {
			if labels[j] == labels[i] {
				if dist[i][j] > hardestPos {
					hardestPos, posIdx = dist[i][j], j
				}
				if penalized := dist[i][j] + largeDist; penalized < hardestNeg {
					hardestNeg, negIdx = penalized, j
				}
			} else if dist[i][j] < hardestNeg {
				hardestNeg, negIdx = dist[i][j], j
			}
		}

		active := hardestPos - hardestNeg + margin
		if active <= 0 {
			continue
		}
		total += active

		// Gradient flows only through the selected hardest pairs.
		anchor := grad.Row(i)

		if posIdx != i && dist[i][posIdx] > 0 {
			inv := scale / dist[i][posIdx]
			addScaledDiff(anchor, embeddings.Row(i), embeddings.Row(posIdx), inv)
			addScaledDiff(grad.Row(posIdx), embeddings.Row(posIdx), embeddings.Row(i), inv)
		}

		if negIdx >= 0 && labels[negIdx] != labels[i] && dist[i][negIdx] > 0 {
			inv := scale / dist[i][negIdx]
			addScaledDiff(anchor, embeddings.Row(i), embeddings.Row(negIdx), -inv)
			addScaledDiff(grad.Row(negIdx), embeddings.Row(negIdx), embeddings.Row(i), -inv)
		}
	}

	return total * scale, grad
}

// addScaledDiff accumulates dst += scale*(a-b).
func addScaledDiff(dst, a, b []float32, scale float32) {
	for i := range dst {
		dst[i] += scale * (a[i] - b[i])
	}
}
