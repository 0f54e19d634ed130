package verigo

import (
	"context"
	"image"

	"github.com/hupe1980/verigo/model"
)

// CheckLiveness runs only the liveness stage on a face image. It does
// not touch the gallery; use it to screen captures before a full
// verification or enrollment.
func (p *Pipeline) CheckLiveness(ctx context.Context, faceImage image.Image) (*model.SpoofResult, error) {
	if faceImage == nil {
		return nil, &PreprocessingError{Stage: StageLiveness, cause: ErrNilImage}
	}

	sess := newSession()

	var live *model.SpoofResult

	err := p.runStage(ctx, sess, StageLiveness, func() error {
		var err error
		live, err = p.models.Liveness.CheckLiveness(ctx, faceImage)

		return err
	})
	if err != nil {
		return nil, err
	}

	return live, nil
}

// CheckIrisQuality runs only the iris segmentation stage on an iris
// image, reporting detection, quality score and the iris bounding box.
func (p *Pipeline) CheckIrisQuality(ctx context.Context, irisImage image.Image) (*model.SegmentationResult, error) {
	if irisImage == nil {
		return nil, &PreprocessingError{Stage: StageIrisQuality, cause: ErrNilImage}
	}

	sess := newSession()

	var seg *model.SegmentationResult

	err := p.runStage(ctx, sess, StageIrisQuality, func() error {
		var err error
		seg, err = p.models.IrisSegmenter.Segment(ctx, irisImage)

		return err
	})
	if err != nil {
		return nil, err
	}

	return seg, nil
}
