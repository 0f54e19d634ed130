// Package blobstore provides storage abstraction for immutable artifacts,
// primarily model checkpoints.
//
// BlobStore is the interface for reading and writing whole artifacts.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with mmap-backed reads
//   - MemoryStore: in-process store for tests and defaults
//   - CachingStore: read-through cache wrapping any other store
//   - minio.Store: any S3-compatible endpoint via the MinIO client
//   - s3.Store: Amazon S3 with ranged reads and managed uploads
//   - s3.CommitStore: S3 plus a DynamoDB pointer for atomic checkpoint
//     publication
//
// # Custom Implementations
//
// Implement the BlobStore interface to support other backends:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)    // open for reading
//	    Put(ctx, name, data) error       // atomic whole-artifact write
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Blobs whose contents are already in memory should additionally
// implement Mappable so readers can avoid a copy.
package blobstore
