// Package gallery stores enrolled identity records and matches probe
// embeddings against them.
//
// The gallery is an exact matcher: every comparable record is scored with
// cosine similarity and the best candidate wins. Records only compare
// against probes of the same modality and the same producing model
// version, so embeddings from incompatible model revisions never meet.
package gallery

import (
	"errors"
	"iter"

	"github.com/hupe1980/verigo/model"
)

var (
	// ErrNotFound is returned when no record exists for an identity ID.
	ErrNotFound = errors.New("identity not found")
	// ErrNilRecord is returned when a nil record is offered to a store.
	ErrNilRecord = errors.New("nil identity record")
	// ErrEmptyID is returned when a record carries no identity ID.
	ErrEmptyID = errors.New("empty identity id")
	// ErrNilProbe is returned when a match is requested without a probe.
	ErrNilProbe = errors.New("nil probe embedding")
)

// Store is where identity records live.
//
// Records yielded by All are the store's live copies and must be treated
// as read-only; Get returns an isolated clone.
type Store interface {
	// Get retrieves the record for the given identity ID.
	Get(id string) (*model.IdentityRecord, error)
	// Put inserts or replaces the record keyed by its identity ID.
	Put(record *model.IdentityRecord) error
	// Delete removes the record for the given identity ID.
	Delete(id string) error
	// All iterates over every record in unspecified order.
	All() iter.Seq[*model.IdentityRecord]
	// Len returns the number of enrolled identities.
	Len() int
}

// ModalityIndexed is an optional Store capability: iterate only the
// records carrying an embedding for the given modality. The matcher uses
// it to skip records that could never score.
type ModalityIndexed interface {
	ByModality(m model.Modality) iter.Seq[*model.IdentityRecord]
}
