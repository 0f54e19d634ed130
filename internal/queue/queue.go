// Package queue provides a bounded top-k heap for candidate ranking.
package queue

// Item is a scored gallery candidate.
// Value-based (no pointers) for cache locality and zero allocations.
type Item struct {
	ID         string
	Similarity float32
}

// worse reports whether a ranks below b: lower similarity loses, and on
// equal similarity the lexicographically greater ID loses.
func worse(a, b Item) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity < b.Similarity
	}
	return a.ID > b.ID
}

// TopK keeps the k best-scoring candidates seen so far. The backing
// min-heap holds the weakest retained candidate at the root, so
// admission is a single comparison against the root.
type TopK struct {
	k     int
	items []Item
}

// NewTopK initializes a top-k queue. k must be positive.
func NewTopK(k int) *TopK {
	if k < 1 {
		k = 1
	}
	return &TopK{
		k:     k,
		items: make([]Item, 0, k),
	}
}

// Len returns the number of retained candidates.
func (q *TopK) Len() int { return len(q.items) }

// Offer submits a candidate and reports whether it was retained.
func (q *TopK) Offer(id string, similarity float32) bool {
	item := Item{ID: id, Similarity: similarity}

	if len(q.items) < q.k {
		q.items = append(q.items, item)
		q.siftUp(len(q.items) - 1)
		return true
	}

	// Full: the new candidate must beat the current weakest.
	if !worse(q.items[0], item) {
		return false
	}
	q.items[0] = item
	q.siftDown(0)

	return true
}

// Threshold returns the weakest retained similarity, or false while the
// queue is not yet full. Candidates at or below it cannot displace
// anything unless the ID tie-break favors them.
func (q *TopK) Threshold() (float32, bool) {
	if len(q.items) < q.k {
		return 0, false
	}
	return q.items[0].Similarity, true
}

// Drain empties the queue and returns the retained candidates ordered
// by descending similarity, ascending ID among ties.
func (q *TopK) Drain() []Item {
	out := make([]Item, len(q.items))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = q.pop()
	}
	return out
}

// Reset clears the queue for reuse.
func (q *TopK) Reset() {
	q.items = q.items[:0]
}

// pop removes and returns the weakest candidate.
func (q *TopK) pop() Item {
	n := len(q.items)
	root := q.items[0]
	last := q.items[n-1]
	q.items[n-1] = Item{}
	q.items = q.items[:n-1]
	if n-1 > 0 {
		q.items[0] = last
		q.siftDown(0)
	}
	return root
}

func (q *TopK) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !worse(q.items[i], q.items[p]) {
			return
		}
		q.items[i], q.items[p] = q.items[p], q.items[i]
		i = p
	}
}

func (q *TopK) siftDown(i int) {
	n := len(q.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		weakest := l
		r := l + 1
		if r < n && worse(q.items[r], q.items[l]) {
			weakest = r
		}
		if !worse(q.items[weakest], q.items[i]) {
			return
		}
		q.items[i], q.items[weakest] = q.items[weakest], q.items[i]
		i = weakest
	}
}
