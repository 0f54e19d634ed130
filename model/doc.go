// Package model defines the core types shared across the verification
// pipeline.
//
// # Identity Types
//
//   - Modality: which biometric a value belongs to (face or iris)
//   - Embedding: an L2-normalized feature vector tagged with its
//     modality and the model version that produced it
//   - IdentityRecord: an enrolled identity with up to one embedding per
//     modality
//
// # Result Types
//
//   - SpoofResult: liveness decision with confidence and attention map
//   - SegmentationResult: iris mask, quality score and bounding box
//   - MatchResult: best gallery match with similarity
//   - Candidate: one ranked entry of a top-k query
//
// # Capability Interfaces
//
// The small single-method-family interfaces (LivenessChecker, Embedder,
// Segmenter, Checkpointer, BlobCheckpointer) are what the orchestrator
// and training driver program against; the concrete models in
// antispoof, faceid, irisseg and irisid satisfy them.
package model
