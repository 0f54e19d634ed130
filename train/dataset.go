package train

// Dataset yields pre-built mini-batches by index. Batches are handed to
// TrainStep as-is; the trainer never copies or reshapes them.
type Dataset[B any] interface {
	Len() int
	Batch(i int) (B, error)
}

// SliceDataset serves batches from a slice, in order.
type SliceDataset[B any] []B

// Len implements Dataset.
func (d SliceDataset[B]) Len() int { return len(d) }

// Batch implements Dataset.
func (d SliceDataset[B]) Batch(i int) (B, error) { return d[i], nil }
