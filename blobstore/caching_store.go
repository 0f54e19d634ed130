package blobstore

import (
	"context"

	"github.com/hupe1980/verigo/internal/cache"
	"golang.org/x/sync/singleflight"
)

// CachingStore wraps a BlobStore with a read-through artifact cache.
// A whole blob is fetched from the backend once, cached, and served from
// memory or local disk afterwards. Writes and deletes through this store
// invalidate the cached copy; writes that bypass it are invisible until
// the entry is evicted.
type CachingStore struct {
	inner BlobStore
	cache cache.Cache
	sf    singleflight.Group
}

// Compile-time check.
var _ BlobStore = (*CachingStore)(nil)

// NewCachingStore creates a read-through cache in front of inner.
func NewCachingStore(inner BlobStore, c cache.Cache) *CachingStore {
	return &CachingStore{inner: inner, cache: c}
}

// Open returns a blob served from cache, fetching it from the backend on
// a miss. Concurrent misses for the same name share a single fetch; the
// first caller's context governs that shared fetch.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	key := cache.Key{Kind: cache.KindBlob, Name: name}
	if data, ok := s.cache.Get(ctx, key); ok {
		return &memoryBlob{data: data}, nil
	}

	v, err, _ := s.sf.Do(name, func() (any, error) {
		if data, ok := s.cache.Get(ctx, key); ok {
			return data, nil
		}
		b, err := s.inner.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		defer func() { _ = b.Close() }()

		data, err := ReadAll(ctx, b)
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return &memoryBlob{data: v.([]byte)}, nil
}

// Put invalidates the cached copy and writes through to the backend.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Kind == cache.KindBlob && key.Name == name
	})
	return s.inner.Put(ctx, name, data)
}

// Delete invalidates the cached copy and deletes from the backend.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.cache.Invalidate(func(key cache.Key) bool {
		return key.Kind == cache.KindBlob && key.Name == name
	})
	return s.inner.Delete(ctx, name)
}

// List passes through to the backend.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}
