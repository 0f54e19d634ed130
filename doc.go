// Package verigo provides a multi-modal biometric identity verification
// engine for Go.
//
// Verigo runs face and iris captures through four neural stages
// (liveness detection, face matching, iris segmentation, iris matching)
// and fuses the per-modality similarities into a single accept/reject
// decision. All models are pure Go and train, evaluate and checkpoint
// without external runtimes.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	detector, _ := antispoof.New(antispoof.DefaultConfig())
//	faceEnc, _ := faceid.New(faceid.DefaultConfig())
//	segmenter, _ := irisseg.New(irisseg.DefaultConfig())
//	irisEnc, _ := irisid.New(irisid.DefaultConfig())
//
//	pipe, _ := verigo.New(verigo.Models{
//	    Liveness:      detector,
//	    FaceEncoder:   faceEnc,
//	    IrisSegmenter: segmenter,
//	    IrisEncoder:   irisEnc,
//	})
//
//	pipe.Enroll(ctx, "alice", faceRef, irisRef)
//
//	result, _ := pipe.VerifyIdentity(ctx, faceProbe, irisProbe)
//	fmt.Println(result.Accepted, result.Identity)
//
// # Decision Rules
//
// A session is accepted only when every stage passes:
//
//	LIVENESS_CHECK      face is genuine (no presentation attack)
//	FACE_MATCH          face similarity ≥ face match threshold
//	IRIS_QUALITY_CHECK  iris segmentation is valid
//	IRIS_MATCH          iris similarity ≥ iris match threshold
//	FUSION              0.4·face + 0.6·iris ≥ combined threshold,
//	                    with per-modality score floors
//
// Stages run strictly in order and the first failing gate rejects the
// session; the result carries the reject reason and per-stage timings.
// Weights and thresholds are configurable through Options.
//
// # Checkpoints
//
// Model weights round-trip through a compact binary format, either on
// the local filesystem or in object storage:
//
//	pipe.SaveCheckpoints(ctx, "./weights")
//	pipe.LoadCheckpoints(ctx, "./weights")
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("weights/"))
//	pipe.SaveCheckpointsTo(ctx, store, "v1/")
//
// # Training
//
// Each model exposes TrainStep and Evaluate for from-scratch training;
// the train package adds epoch loops, optimizers, learning-rate
// schedules and best-model checkpoint tracking.
//
// # Key Features
//
//   - Four-stage verification pipeline with early-exit gating
//   - Weighted ensemble fusion with per-modality score floors
//   - Pure Go neural networks (CDCN, ArcFace-style, U-Net style)
//   - In-memory gallery with exact cosine matching and top-k ranking
//   - Checkpoints on disk or in S3/MinIO-compatible object storage
//   - Structured logging (slog) and Prometheus metrics
package verigo
