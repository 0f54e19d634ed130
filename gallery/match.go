package gallery

import (
	"fmt"
	"iter"

	"github.com/hupe1980/verigo/distance"
	"github.com/hupe1980/verigo/internal/queue"
	"github.com/hupe1980/verigo/model"
)

// Matcher performs exact cosine matching of probe embeddings against a
// gallery store.
type Matcher struct {
	store Store
}

// NewMatcher creates a matcher over the given store.
func NewMatcher(store Store) *Matcher {
	return &Matcher{store: store}
}

// Match scores the probe against every comparable record and returns the
// best one. Records lacking the probe's modality or produced by a
// different model version are skipped. Equal similarities resolve to the
// lexicographically lowest identity ID, so results are deterministic
// regardless of iteration order.
//
// When no record is comparable the result carries an empty identity and
// Match false.
func (m *Matcher) Match(probe *model.Embedding, threshold float32) (*model.MatchResult, error) {
	if probe == nil || len(probe.Vector) == 0 {
		return nil, ErrNilProbe
	}

	best := &model.MatchResult{}
	found := false

	for rec := range m.candidates(probe.Modality) {
		ref := rec.Embedding(probe.Modality)
		if ref.ModelVersion != probe.ModelVersion {
			continue
		}

		sim, err := distance.CosineSimilarity(probe.Vector, ref.Vector)
		if err != nil {
			return nil, fmt.Errorf("compare against %q: %w", rec.ID, err)
		}

		if !found || sim > best.Similarity || (sim == best.Similarity && rec.ID < best.Identity) {
			best.Identity = rec.ID
			best.Similarity = sim
			found = true
		}
	}

	best.Match = found && best.Similarity >= threshold

	return best, nil
}

// TopK returns the k best-scoring comparable records, ordered by
// descending similarity with ties broken toward the lower identity ID.
func (m *Matcher) TopK(probe *model.Embedding, k int) ([]model.Candidate, error) {
	if probe == nil || len(probe.Vector) == 0 {
		return nil, ErrNilProbe
	}

	q := queue.NewTopK(k)

	for rec := range m.candidates(probe.Modality) {
		ref := rec.Embedding(probe.Modality)
		if ref.ModelVersion != probe.ModelVersion {
			continue
		}

		sim, err := distance.CosineSimilarity(probe.Vector, ref.Vector)
		if err != nil {
			return nil, fmt.Errorf("compare against %q: %w", rec.ID, err)
		}

		q.Offer(rec.ID, sim)
	}

	items := q.Drain()

	out := make([]model.Candidate, len(items))
	for i, item := range items {
		out[i] = model.Candidate{ID: item.ID, Similarity: item.Similarity}
	}

	return out, nil
}

// candidates restricts iteration to records carrying the modality, using
// the store's native modality index when it has one.
func (m *Matcher) candidates(modality model.Modality) iter.Seq[*model.IdentityRecord] {
	if idx, ok := m.store.(ModalityIndexed); ok {
		return idx.ByModality(modality)
	}

	return func(yield func(*model.IdentityRecord) bool) {
		for rec := range m.store.All() {
			if !rec.Has(modality) {
				continue
			}
			if !yield(rec) {
				return
			}
		}
	}
}
