// Package model defines the domain types shared by the perception models,
// the gallery and the verification pipeline.
package model

import (
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/verigo/tensor"
)

// Modality identifies the biometric trait an embedding was derived from.
type Modality uint8

const (
	ModalityFace Modality = iota
	ModalityIris
)

func (m Modality) String() string {
	switch m {
	case ModalityFace:
		return "face"
	case ModalityIris:
		return "iris"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// Embedding is a fixed-dimension, L2-normalized feature vector produced by
// an encoder model. ModelVersion identifies the producing model so that
// embeddings from incompatible model revisions are never compared.
type Embedding struct {
	Modality     Modality
	Vector       []float32
	ModelVersion string
}

// Dim returns the embedding dimensionality.
func (e *Embedding) Dim() int {
	return len(e.Vector)
}

// Clone returns a deep copy.
func (e *Embedding) Clone() *Embedding {
	if e == nil {
		return nil
	}

	return &Embedding{
		Modality:     e.Modality,
		Vector:       slices.Clone(e.Vector),
		ModelVersion: e.ModelVersion,
	}
}

// IdentityRecord is a gallery entry: one enrolled identity with its
// per-modality reference embeddings.
type IdentityRecord struct {
	ID         string
	Face       *Embedding
	Iris       *Embedding
	EnrolledAt time.Time
	UpdatedAt  time.Time
}

// Has reports whether the record carries an embedding for the modality.
func (r *IdentityRecord) Has(m Modality) bool {
	return r.Embedding(m) != nil
}

// Embedding returns the record's embedding for the modality, or nil.
func (r *IdentityRecord) Embedding(m Modality) *Embedding {
	switch m {
	case ModalityFace:
		return r.Face
	case ModalityIris:
		return r.Iris
	default:
		return nil
	}
}

// Clone returns a deep copy of the record.
func (r *IdentityRecord) Clone() *IdentityRecord {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Face = r.Face.Clone()
	clone.Iris = r.Iris.Clone()

	return &clone
}

// BoundingBox is an axis-aligned pixel region, inclusive on all edges.
type BoundingBox struct {
	XMin, YMin int
	XMax, YMax int
}

// Width returns the box width in pixels.
func (b BoundingBox) Width() int {
	return b.XMax - b.XMin + 1
}

// Height returns the box height in pixels.
func (b BoundingBox) Height() int {
	return b.YMax - b.YMin + 1
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("BBox(%d,%d)-(%d,%d)", b.XMin, b.YMin, b.XMax, b.YMax)
}

// SpoofResult is the outcome of a liveness check on a face image.
type SpoofResult struct {
	// IsReal is true when the confidence clears the spoof threshold.
	IsReal bool
	// Confidence is the model's probability that the face is genuine.
	Confidence float32
	// DepthMap is the estimated facial depth map (genuine faces have
	// depth structure, presentation attacks are flat).
	DepthMap *tensor.Tensor
	// AttentionMap highlights the regions driving the decision.
	AttentionMap *tensor.Tensor
}

// SegmentationResult is the outcome of iris segmentation on an eye image.
type SegmentationResult struct {
	// Detected is true when the mean mask activation clears the
	// detection confidence threshold.
	Detected bool
	// Confidence is the mean activation of the final mask.
	Confidence float32
	// QualityScore aggregates contrast, coverage and smoothness in [0,1].
	QualityScore float32
	// Valid is Detected && QualityScore above the quality threshold.
	Valid bool
	// Mask is the full-resolution segmentation mask in [0,1].
	Mask *tensor.Tensor
	// BBox bounds the segmented iris; nil when nothing was segmented.
	BBox *BoundingBox
}

// MatchResult is the best gallery match for a probe embedding.
type MatchResult struct {
	// Identity is the best-matching identity ID, empty when the gallery
	// holds no comparable record.
	Identity string
	// Similarity is the cosine similarity to that identity.
	Similarity float32
	// Match is true when Similarity clears the modality threshold.
	Match bool
}

// Candidate is one scored gallery entry from a top-k ranking.
type Candidate struct {
	ID         string
	Similarity float32
}
