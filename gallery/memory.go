package gallery

import (
	"iter"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/verigo/model"
)

// Compile time check to ensure MemoryStore satisfies the interfaces.
var (
	_ Store           = (*MemoryStore)(nil)
	_ ModalityIndexed = (*MemoryStore)(nil)
)

// MemoryStore is an in-memory Store backed by a Go map. It is suitable
// for galleries that fit in memory and provides fast O(1) access.
//
// Each identity is assigned a stable numeric slot, and per-modality
// Roaring bitmaps over those slots let the matcher iterate only the
// records that carry the probe's modality.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*model.IdentityRecord
	slots    map[string]uint32
	ids      map[uint32]string
	nextSlot uint32
	modality map[model.Modality]*roaring.Bitmap
}

// NewMemoryStore creates an empty in-memory gallery store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*model.IdentityRecord),
		slots:   make(map[string]uint32),
		ids:     make(map[uint32]string),
		modality: map[model.Modality]*roaring.Bitmap{
			model.ModalityFace: roaring.New(),
			model.ModalityIris: roaring.New(),
		},
	}
}

// Get retrieves a deep copy of the record for the given identity ID.
func (s *MemoryStore) Get(id string) (*model.IdentityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	return rec.Clone(), nil
}

// Put inserts or replaces the record keyed by its identity ID. The store
// keeps its own copy, so later mutation of the argument is harmless.
func (s *MemoryStore) Put(record *model.IdentityRecord) error {
	if record == nil {
		return ErrNilRecord
	}

	if record.ID == "" {
		return ErrEmptyID
	}

	clone := record.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[record.ID]
	if !ok {
		slot = s.nextSlot
		s.nextSlot++
		s.slots[record.ID] = slot
		s.ids[slot] = record.ID
	}

	// Replacing a record may add or drop modalities.
	for m, bm := range s.modality {
		if clone.Has(m) {
			bm.Add(slot)
		} else {
			bm.Remove(slot)
		}
	}

	s.records[record.ID] = clone

	return nil
}

// Delete removes the record for the given identity ID.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return ErrNotFound
	}

	for _, bm := range s.modality {
		bm.Remove(slot)
	}

	delete(s.records, id)
	delete(s.slots, id)
	delete(s.ids, slot)

	return nil
}

// All iterates over every record. The yielded records are the store's
// live copies; treat them as read-only.
func (s *MemoryStore) All() iter.Seq[*model.IdentityRecord] {
	return func(yield func(*model.IdentityRecord) bool) {
		s.mu.RLock()
		recs := make([]*model.IdentityRecord, 0, len(s.records))
		for _, rec := range s.records {
			recs = append(recs, rec)
		}
		s.mu.RUnlock()

		for _, rec := range recs {
			if !yield(rec) {
				return
			}
		}
	}
}

// ByModality iterates over the records carrying an embedding for the
// given modality, resolved through the modality bitmap. The yielded
// records are the store's live copies; treat them as read-only.
func (s *MemoryStore) ByModality(m model.Modality) iter.Seq[*model.IdentityRecord] {
	return func(yield func(*model.IdentityRecord) bool) {
		s.mu.RLock()
		bm, ok := s.modality[m]
		if !ok {
			s.mu.RUnlock()
			return
		}

		recs := make([]*model.IdentityRecord, 0, bm.GetCardinality())
		it := bm.Iterator()
		for it.HasNext() {
			if rec, ok := s.records[s.ids[it.Next()]]; ok {
				recs = append(recs, rec)
			}
		}
		s.mu.RUnlock()

		for _, rec := range recs {
			if !yield(rec) {
				return
			}
		}
	}
}

// Len returns the number of enrolled identities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// IDs returns all enrolled identity IDs in lexicographic order.
func (s *MemoryStore) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

// Clear removes all records from the store.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*model.IdentityRecord)
	s.slots = make(map[string]uint32)
	s.ids = make(map[uint32]string)
	s.nextSlot = 0

	for _, bm := range s.modality {
		bm.Clear()
	}
}
