package verigo

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/hupe1980/verigo/gallery"
	"github.com/hupe1980/verigo/model"
)

// EnrollmentResult is the outcome of a successful enrollment.
type EnrollmentResult struct {
	// Identity is the enrolled identity ID.
	Identity string
	// Created is true when a new record was created, false when an
	// existing record was updated.
	Created bool
	// Modalities lists the modalities enrolled by this call.
	Modalities []model.Modality
	// Elapsed is the end-to-end enrollment duration.
	Elapsed time.Duration
}

// Enroll registers reference embeddings for an identity. Either image
// may be nil to enroll a single modality; at least one is required.
// Enrolling an existing identity replaces the supplied modalities and
// keeps the others.
//
// The face branch gates on liveness and the iris branch on segmentation
// validity. A gate failure returns a GateFailure error and leaves the
// gallery untouched.
func (p *Pipeline) Enroll(ctx context.Context, identityID string, faceImage, irisImage image.Image) (*EnrollmentResult, error) {
	start := time.Now()

	result, err := p.enroll(ctx, identityID, faceImage, irisImage)

	p.opts.metrics.RecordEnroll(time.Since(start), err)
	p.opts.logger.LogEnroll(ctx, identityID, result != nil && result.Created, err)

	if err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)

	return result, nil
}

func (p *Pipeline) enroll(ctx context.Context, identityID string, faceImage, irisImage image.Image) (*EnrollmentResult, error) {
	if identityID == "" {
		return nil, fmt.Errorf("verigo: enroll: %w", gallery.ErrEmptyID)
	}
	if faceImage == nil && irisImage == nil {
		return nil, fmt.Errorf("verigo: enroll %q: %w", identityID, ErrNoModalities)
	}

	var (
		faceEmb    *model.Embedding
		irisEmb    *model.Embedding
		modalities []model.Modality
	)

	if faceImage != nil {
		live, err := p.models.Liveness.CheckLiveness(ctx, faceImage)
		if err != nil {
			return nil, translateError(StageLiveness, err)
		}
		if !live.IsReal {
			return nil, &GateFailure{Stage: StageLiveness, Reason: RejectSpoofDetected, Score: live.Confidence}
		}

		faceEmb, err = p.models.FaceEncoder.Embed(ctx, faceImage)
		if err != nil {
			return nil, translateError(StageFaceMatch, err)
		}

		modalities = append(modalities, model.ModalityFace)
	}

	if irisImage != nil {
		seg, err := p.models.IrisSegmenter.Segment(ctx, irisImage)
		if err != nil {
			return nil, translateError(StageIrisQuality, err)
		}
		if !seg.Valid {
			return nil, &GateFailure{Stage: StageIrisQuality, Reason: RejectIrisInvalid, Score: seg.QualityScore}
		}

		irisEmb, err = p.models.IrisEncoder.Embed(ctx, irisImage)
		if err != nil {
			return nil, translateError(StageIrisMatch, err)
		}

		modalities = append(modalities, model.ModalityIris)
	}

	now := time.Now()

	record, err := p.store.Get(identityID)
	created := false

	switch {
	case errors.Is(err, gallery.ErrNotFound):
		record = &model.IdentityRecord{ID: identityID, EnrolledAt: now}
		created = true
	case err != nil:
		return nil, fmt.Errorf("verigo: load record %q: %w", identityID, err)
	}

	if faceEmb != nil {
		record.Face = faceEmb
	}
	if irisEmb != nil {
		record.Iris = irisEmb
	}
	record.UpdatedAt = now

	if err := p.store.Put(record); err != nil {
		return nil, fmt.Errorf("verigo: store record %q: %w", identityID, err)
	}

	return &EnrollmentResult{
		Identity:   identityID,
		Created:    created,
		Modalities: modalities,
	}, nil
}
