package verigo

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/hupe1980/verigo/gallery"
	"github.com/hupe1980/verigo/model"
)

// Models bundles the four perception models the pipeline runs. All four
// slots are required; pass the bundled implementations from the
// antispoof, faceid, irisseg and irisid packages or your own.
type Models struct {
	// Liveness detects presentation attacks on the face image.
	Liveness model.LivenessChecker
	// FaceEncoder embeds the face image for gallery matching.
	FaceEncoder model.Embedder
	// IrisSegmenter segments the iris and scores capture quality.
	IrisSegmenter model.Segmenter
	// IrisEncoder embeds the iris image for gallery matching.
	IrisEncoder model.Embedder
}

func (m Models) validate() error {
	if m.Liveness == nil {
		return fmt.Errorf("verigo: liveness checker: %w", ErrNilModel)
	}
	if m.FaceEncoder == nil {
		return fmt.Errorf("verigo: face encoder: %w", ErrNilModel)
	}
	if m.IrisSegmenter == nil {
		return fmt.Errorf("verigo: iris segmenter: %w", ErrNilModel)
	}
	if m.IrisEncoder == nil {
		return fmt.Errorf("verigo: iris encoder: %w", ErrNilModel)
	}

	return nil
}

// Pipeline verifies identities by running face and iris images through
// four sequential stages: liveness check, face match, iris quality
// check and iris match, then fusing the two similarities into one
// accept/reject decision. A stage that fails its gate short-circuits
// the session; later stages never run.
//
// The zero value is not usable; construct with New. A Pipeline is safe
// for concurrent use when its gallery store is.
type Pipeline struct {
	models  Models
	store   gallery.Store
	matcher *gallery.Matcher
	opts    options
}

// New creates a verification pipeline over the given models.
//
//	pipe, err := verigo.New(verigo.Models{
//		Liveness:      detector,
//		FaceEncoder:   faceEnc,
//		IrisSegmenter: segmenter,
//		IrisEncoder:   irisEnc,
//	})
func New(models Models, optFns ...Option) (*Pipeline, error) {
	if err := models.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(optFns)
	if err := o.validate(); err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		store = gallery.NewMemoryStore()
	}

	return &Pipeline{
		models:  models,
		store:   store,
		matcher: gallery.NewMatcher(store),
		opts:    o,
	}, nil
}

// VerificationResult is the outcome of one verification session.
type VerificationResult struct {
	// SessionID uniquely identifies the session.
	SessionID string
	// Accepted reports the final decision.
	Accepted bool
	// Reason is why the session was rejected; RejectNone when accepted.
	Reason RejectReason
	// Identity is the verified identity ID; empty unless accepted.
	Identity string
	// Liveness is the spoof detection outcome.
	Liveness *model.SpoofResult
	// FaceMatch is the best face match; nil when the session rejected
	// before the face stage completed.
	FaceMatch *model.MatchResult
	// Segmentation is the iris quality outcome; nil when the session
	// rejected before the iris quality stage completed.
	Segmentation *model.SegmentationResult
	// IrisMatch is the best iris match; nil when the session rejected
	// before the iris stage completed.
	IrisMatch *model.MatchResult
	// FusedScore is the weighted combination of the two similarities;
	// zero unless the fusion stage ran.
	FusedScore float32
	// StageTimings holds the elapsed time of each stage that ran.
	StageTimings map[Stage]time.Duration
	// Elapsed is the end-to-end session duration.
	Elapsed time.Duration
}

// VerifyIdentity runs one verification session over a face image and an
// iris image.
//
// Gate failures (spoofed face, no face match, poor iris capture, no
// iris match, fused score below threshold) are reported in the result,
// not as errors; the error return covers infrastructure failures such
// as nil inputs, model inference errors and context cancellation.
func (p *Pipeline) VerifyIdentity(ctx context.Context, faceImage, irisImage image.Image) (*VerificationResult, error) {
	start := time.Now()
	sess := newSession()

	result, err := p.verify(ctx, sess, faceImage, irisImage)
	if err != nil {
		p.opts.metrics.RecordVerify(time.Since(start), false, RejectNone, err)
		p.opts.logger.LogVerify(ctx, sess.id, false, RejectNone, 0, err)

		return nil, err
	}

	p.opts.metrics.RecordVerify(time.Since(start), result.Accepted, result.Reason, nil)
	p.opts.logger.LogVerify(ctx, sess.id, result.Accepted, result.Reason, result.FusedScore, nil)

	return result, nil
}

func (p *Pipeline) verify(ctx context.Context, sess *session, faceImage, irisImage image.Image) (*VerificationResult, error) {
	if faceImage == nil {
		return nil, &PreprocessingError{Stage: StageLiveness, cause: ErrNilImage}
	}
	if irisImage == nil {
		return nil, &PreprocessingError{Stage: StageIrisQuality, cause: ErrNilImage}
	}

	result := &VerificationResult{
		SessionID: sess.id,
		Reason:    RejectNone,
	}

	var live *model.SpoofResult

	err := p.runStage(ctx, sess, StageLiveness, func() error {
		var err error
		live, err = p.models.Liveness.CheckLiveness(ctx, faceImage)

		return err
	})
	if err != nil {
		return nil, err
	}

	result.Liveness = live
	if !live.IsReal {
		return p.reject(result, sess, RejectSpoofDetected), nil
	}

	var faceMatch *model.MatchResult

	err = p.runStage(ctx, sess, StageFaceMatch, func() error {
		emb, err := p.models.FaceEncoder.Embed(ctx, faceImage)
		if err != nil {
			return err
		}

		faceMatch, err = p.matcher.Match(emb, p.opts.faceThreshold)

		return err
	})
	if err != nil {
		return nil, err
	}

	result.FaceMatch = faceMatch
	if !faceMatch.Match {
		return p.reject(result, sess, RejectFaceMismatch), nil
	}

	var seg *model.SegmentationResult

	err = p.runStage(ctx, sess, StageIrisQuality, func() error {
		var err error
		seg, err = p.models.IrisSegmenter.Segment(ctx, irisImage)

		return err
	})
	if err != nil {
		return nil, err
	}

	result.Segmentation = seg
	if !seg.Valid {
		return p.reject(result, sess, RejectIrisInvalid), nil
	}

	var irisMatch *model.MatchResult

	err = p.runStage(ctx, sess, StageIrisMatch, func() error {
		emb, err := p.models.IrisEncoder.Embed(ctx, irisImage)
		if err != nil {
			return err
		}

		irisMatch, err = p.matcher.Match(emb, p.opts.irisThreshold)

		return err
	})
	if err != nil {
		return nil, err
	}

	result.IrisMatch = irisMatch
	if !irisMatch.Match {
		return p.reject(result, sess, RejectIrisMismatch), nil
	}

	_ = p.runStage(ctx, sess, StageFusion, func() error {
		result.FusedScore = p.opts.faceWeight*faceMatch.Similarity + p.opts.irisWeight*irisMatch.Similarity

		// Acceptance is a conjunction: the fused score must clear the
		// combined threshold and each similarity must clear its
		// per-modality floor.
		result.Accepted = result.FusedScore >= p.opts.combinedThreshold &&
			faceMatch.Similarity >= p.opts.minFaceScore &&
			irisMatch.Similarity >= p.opts.minIrisScore

		return nil
	})

	if !result.Accepted {
		return p.reject(result, sess, RejectCombinedBelowThreshold), nil
	}

	result.Identity = faceMatch.Identity

	return p.seal(result, sess), nil
}

// runStage times fn, records the stage with the metrics collector and
// logger, and normalizes any error it returns.
func (p *Pipeline) runStage(ctx context.Context, sess *session, stage Stage, fn func() error) error {
	start := time.Now()
	err := translateError(stage, fn())
	elapsed := time.Since(start)

	sess.timings[stage] = elapsed
	p.opts.metrics.RecordStage(stage, elapsed, err)
	p.opts.logger.LogStage(ctx, sess.id, stage, elapsed, err)

	return err
}

func (p *Pipeline) reject(result *VerificationResult, sess *session, reason RejectReason) *VerificationResult {
	result.Accepted = false
	result.Reason = reason

	return p.seal(result, sess)
}

func (p *Pipeline) seal(result *VerificationResult, sess *session) *VerificationResult {
	result.StageTimings = sess.timings
	result.Elapsed = sess.elapsed()

	return result
}

// Gallery returns the identity store the pipeline matches against and
// enrolls into.
func (p *Pipeline) Gallery() gallery.Store {
	return p.store
}

// ParameterCount returns the total trainable parameter count across all
// models that report one.
func (p *Pipeline) ParameterCount() int {
	total := 0

	for _, m := range []any{p.models.Liveness, p.models.FaceEncoder, p.models.IrisSegmenter, p.models.IrisEncoder} {
		if counter, ok := m.(interface{ ParameterCount() int }); ok {
			total += counter.ParameterCount()
		}
	}

	return total
}
