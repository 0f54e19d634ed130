package model

import (
	"context"
	"image"

	"github.com/hupe1980/verigo/blobstore"
)

// LivenessChecker detects presentation attacks on face images.
type LivenessChecker interface {
	CheckLiveness(ctx context.Context, img image.Image) (*SpoofResult, error)
}

// Embedder encodes an image into a fixed-dimension, L2-normalized embedding.
// Satisfied by the face and iris encoders.
type Embedder interface {
	Embed(ctx context.Context, img image.Image) (*Embedding, error)
}

// Segmenter produces a segmentation mask with quality metrics.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image) (*SegmentationResult, error)
}

// Checkpointer persists and restores model state as one atomic unit.
type Checkpointer interface {
	SaveCheckpoint(path string) error
	LoadCheckpoint(path string) error
}

// BlobCheckpointer persists and restores model state through a blob
// store, for checkpoints living in object storage rather than on the
// local filesystem.
type BlobCheckpointer interface {
	SaveCheckpointTo(ctx context.Context, store blobstore.BlobStore, name string) error
	LoadCheckpointFrom(ctx context.Context, store blobstore.BlobStore, name string) error
}
