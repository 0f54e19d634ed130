package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`. The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for storing immutable artifacts such as
// model checkpoints. Implementations must be safe for concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	// Returns ErrNotFound if the blob does not exist.
	Open(ctx context.Context, name string) (Blob, error)

	// Put atomically writes a blob. Readers never observe a partial write:
	// the blob becomes visible under name only once it is complete.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored artifact.
type Blob interface {
	io.Closer

	// Size returns the size of the blob in bytes.
	Size() int64

	// ReadAt reads len(p) bytes starting at offset off.
	// Remote implementations issue a ranged request per call.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
}

// Mappable is an optional interface for Blobs whose contents are already
// resident in memory (memory-mapped files, in-memory stores).
type Mappable interface {
	// Bytes returns the underlying byte slice without copying.
	// The slice is read-only and valid until the Blob is closed.
	Bytes() ([]byte, error)
}

// ReadAll reads an entire blob into a freshly allocated slice owned by
// the caller. Callers that can tolerate the Mappable lifetime should
// type-assert for it instead to avoid the copy.
func ReadAll(ctx context.Context, b Blob) ([]byte, error) {
	size := b.Size()
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := b.ReadAt(ctx, buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if int64(n) != size {
		return nil, fmt.Errorf("blobstore: short read: got %d of %d bytes", n, size)
	}
	return buf, nil
}
