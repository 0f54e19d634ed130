package verigo

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/verigo/model"
)

func TestCheckLiveness(t *testing.T) {
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	t.Run("ReturnsModelResult", func(t *testing.T) {
		stubs := newStubSet(0.9, 0.95)

		pipe, err := New(stubs.models())
		require.NoError(t, err)

		res, err := pipe.CheckLiveness(ctx, img)
		require.NoError(t, err)

		assert.True(t, res.IsReal)
		assert.InDelta(t, 0.99, float64(res.Confidence), 1e-6)
		assert.Equal(t, 1, stubs.live.calls)

		// No other stage runs.
		assert.Equal(t, 0, stubs.faceEnc.calls)
		assert.Equal(t, 0, stubs.seg.calls)
		assert.Equal(t, 0, stubs.irisEnc.calls)
	})

	t.Run("NilImage", func(t *testing.T) {
		pipe, err := New(newStubSet(0.9, 0.95).models())
		require.NoError(t, err)

		_, err = pipe.CheckLiveness(ctx, nil)
		require.Error(t, err)

		var preErr *PreprocessingError
		require.ErrorAs(t, err, &preErr)
		assert.Equal(t, StageLiveness, preErr.Stage)
		assert.ErrorIs(t, err, ErrNilImage)
	})

	t.Run("ModelFailure", func(t *testing.T) {
		stubs := newStubSet(0.9, 0.95)
		stubs.live.err = errors.New("conv exploded")

		pipe, err := New(stubs.models())
		require.NoError(t, err)

		_, err = pipe.CheckLiveness(ctx, img)
		require.Error(t, err)

		var infErr *ModelInferenceError
		require.ErrorAs(t, err, &infErr)
		assert.Equal(t, StageLiveness, infErr.Stage)
	})

	t.Run("RecordsStage", func(t *testing.T) {
		metrics := &BasicMetricsCollector{}

		pipe, err := New(newStubSet(0.9, 0.95).models(), WithMetricsCollector(metrics))
		require.NoError(t, err)

		_, err = pipe.CheckLiveness(ctx, img)
		require.NoError(t, err)

		assert.Equal(t, int64(1), metrics.StageCount(StageLiveness))
		assert.Equal(t, int64(0), metrics.GetStats().VerifyCount)
	})
}

func TestCheckIrisQuality(t *testing.T) {
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	t.Run("ReturnsModelResult", func(t *testing.T) {
		stubs := newStubSet(0.9, 0.95)
		stubs.seg.result = &model.SegmentationResult{
			Detected:     true,
			Confidence:   0.97,
			QualityScore: 0.88,
			Valid:        true,
			BBox:         &model.BoundingBox{XMin: 2, YMin: 3, XMax: 10, YMax: 9},
		}

		pipe, err := New(stubs.models())
		require.NoError(t, err)

		res, err := pipe.CheckIrisQuality(ctx, img)
		require.NoError(t, err)

		assert.True(t, res.Detected)
		assert.True(t, res.Valid)
		assert.InDelta(t, 0.88, float64(res.QualityScore), 1e-6)
		require.NotNil(t, res.BBox)
		assert.Equal(t, 9, res.BBox.Width())

		assert.Equal(t, 1, stubs.seg.calls)
		assert.Equal(t, 0, stubs.live.calls)
	})

	t.Run("NilImage", func(t *testing.T) {
		pipe, err := New(newStubSet(0.9, 0.95).models())
		require.NoError(t, err)

		_, err = pipe.CheckIrisQuality(ctx, nil)
		require.Error(t, err)

		var preErr *PreprocessingError
		require.ErrorAs(t, err, &preErr)
		assert.Equal(t, StageIrisQuality, preErr.Stage)
	})

	t.Run("ModelFailure", func(t *testing.T) {
		stubs := newStubSet(0.9, 0.95)
		stubs.seg.err = errors.New("conv exploded")

		pipe, err := New(stubs.models())
		require.NoError(t, err)

		_, err = pipe.CheckIrisQuality(ctx, img)
		require.Error(t, err)

		var infErr *ModelInferenceError
		require.ErrorAs(t, err, &infErr)
		assert.Equal(t, StageIrisQuality, infErr.Stage)
	})
}
