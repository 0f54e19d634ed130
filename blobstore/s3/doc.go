// Package s3 implements blobstore.BlobStore on Amazon S3.
//
// Store serves reads with ranged GETs and routes writes through the
// upload manager, which switches to multipart uploads for large
// checkpoints.
//
// DDBCommitStore layers DynamoDB on top to give checkpoint publication
// the compare-and-swap semantics S3 lacks: concurrent training jobs race
// on a conditional write, and the loser gets ErrConcurrentModification
// instead of silently clobbering the CURRENT pointer.
package s3
