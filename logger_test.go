package verigo

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer

	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level}))

	return logger, &buf
}

func TestNewLogger(t *testing.T) {
	t.Run("NilHandlerDefaults", func(t *testing.T) {
		logger := NewLogger(nil)
		require.NotNil(t, logger)
		assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))
	})

	t.Run("Noop", func(t *testing.T) {
		logger := NoopLogger()
		require.NotNil(t, logger)
		assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelError))
	})
}

func TestLogVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("Accepted", func(t *testing.T) {
		logger, buf := captureLogger(slog.LevelDebug)

		logger.LogVerify(ctx, "sess-1", true, RejectNone, 0.95, nil)

		out := buf.String()
		assert.Contains(t, out, "identity verified")
		assert.Contains(t, out, "sess-1")
		assert.Contains(t, out, "fused_score")
	})

	t.Run("Rejected", func(t *testing.T) {
		logger, buf := captureLogger(slog.LevelDebug)

		logger.LogVerify(ctx, "sess-2", false, RejectSpoofDetected, 0.4, nil)

		out := buf.String()
		assert.Contains(t, out, "identity rejected")
		assert.Contains(t, out, "spoof_detected")
	})

	t.Run("Error", func(t *testing.T) {
		logger, buf := captureLogger(slog.LevelDebug)

		logger.LogVerify(ctx, "sess-3", false, RejectNone, 0, errors.New("boom"))

		out := buf.String()
		assert.Contains(t, out, "verification failed")
		assert.Contains(t, out, "boom")
	})
}

func TestLogStage(t *testing.T) {
	ctx := context.Background()

	t.Run("Completed", func(t *testing.T) {
		logger, buf := captureLogger(slog.LevelDebug)

		logger.LogStage(ctx, "sess-1", StageLiveness, 5*time.Millisecond, nil)

		out := buf.String()
		assert.Contains(t, out, "stage completed")
		assert.Contains(t, out, "liveness_check")
	})

	t.Run("DebugOnly", func(t *testing.T) {
		logger, buf := captureLogger(slog.LevelInfo)

		logger.LogStage(ctx, "sess-1", StageLiveness, 5*time.Millisecond, nil)

		assert.Empty(t, buf.String())
	})

	t.Run("Failed", func(t *testing.T) {
		logger, buf := captureLogger(slog.LevelInfo)

		logger.LogStage(ctx, "sess-1", StageFaceMatch, 5*time.Millisecond, errors.New("boom"))

		out := buf.String()
		assert.Contains(t, out, "stage failed")
		assert.Contains(t, out, "face_match")
	})
}

func TestLogEnroll(t *testing.T) {
	ctx := context.Background()

	t.Run("Created", func(t *testing.T) {
		logger, buf := captureLogger(slog.LevelDebug)

		logger.LogEnroll(ctx, "alice", true, nil)

		assert.Contains(t, buf.String(), "identity enrolled")
	})

	t.Run("Updated", func(t *testing.T) {
		logger, buf := captureLogger(slog.LevelDebug)

		logger.LogEnroll(ctx, "alice", false, nil)

		assert.Contains(t, buf.String(), "identity updated")
	})

	t.Run("Failed", func(t *testing.T) {
		logger, buf := captureLogger(slog.LevelDebug)

		logger.LogEnroll(ctx, "alice", false, errors.New("boom"))

		assert.Contains(t, buf.String(), "enrollment failed")
	})
}

func TestLogCheckpoint(t *testing.T) {
	ctx := context.Background()

	logger, buf := captureLogger(slog.LevelDebug)

	logger.LogCheckpoint(ctx, "save", "faceid", "/tmp/w/faceid.ckpt", nil)
	logger.LogCheckpoint(ctx, "load", "irisid", "/tmp/w/irisid.ckpt", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "checkpoint save completed")
	assert.Contains(t, out, "checkpoint load failed")
	assert.Contains(t, out, "faceid")
	assert.Contains(t, out, "irisid")
}

func TestLogTrainEpoch(t *testing.T) {
	ctx := context.Background()

	logger, buf := captureLogger(slog.LevelDebug)

	logger.LogTrainEpoch(ctx, "antispoof", 3, 0.125, nil)

	out := buf.String()
	assert.Contains(t, out, "training epoch completed")
	assert.Contains(t, out, "antispoof")
}

func TestLoggerWith(t *testing.T) {
	logger, buf := captureLogger(slog.LevelDebug)

	logger.WithSession("sess-9").WithIdentity("alice").WithStage(StageFusion).
		InfoContext(context.Background(), "hello")

	out := buf.String()
	assert.Contains(t, out, "sess-9")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "fusion")
}
