package cache

import "context"

// Kind separates key spaces so different artifact classes never collide.
type Kind uint8

const (
	KindUnknown    Kind = iota
	KindBlob            // whole blobs mirrored from a BlobStore
	KindCheckpoint      // encoded model checkpoints
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// Key identifies a cached artifact. Keys must be stable across processes
// so a disk cache can be rebuilt after a restart.
type Key struct {
	Kind Kind
	// Name is the artifact's name in its origin store.
	Name string
}

// Cache is a byte-oriented cache for immutable artifacts.
// Returned slices must be treated as read-only.
type Cache interface {
	// Get returns a cached artifact. ok=false if missing.
	Get(ctx context.Context, key Key) (b []byte, ok bool)
	// Set caches an artifact. Implementations may copy or retain; the
	// caller must treat b as immutable afterwards.
	Set(ctx context.Context, key Key, b []byte)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key Key) bool)
	// Close releases any resources (e.g. background writers).
	Close() error
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}
