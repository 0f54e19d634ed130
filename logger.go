package verigo

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with verigo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithSession adds a session ID field to the logger.
func (l *Logger) WithSession(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("session_id", id),
	}
}

// WithIdentity adds an identity field to the logger.
func (l *Logger) WithIdentity(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("identity", id),
	}
}

// WithStage adds a pipeline stage field to the logger.
func (l *Logger) WithStage(stage Stage) *Logger {
	return &Logger{
		Logger: l.Logger.With("stage", stage.String()),
	}
}

// LogStage logs completion of a single pipeline stage.
func (l *Logger) LogStage(ctx context.Context, sessionID string, stage Stage, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "stage failed",
			"session_id", sessionID,
			"stage", stage.String(),
			"elapsed", elapsed,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "stage completed",
			"session_id", sessionID,
			"stage", stage.String(),
			"elapsed", elapsed,
		)
	}
}

// LogVerify logs the outcome of a verification session.
func (l *Logger) LogVerify(ctx context.Context, sessionID string, accepted bool, reason RejectReason, fused float32, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "verification failed",
			"session_id", sessionID,
			"error", err,
		)
	case accepted:
		l.InfoContext(ctx, "identity verified",
			"session_id", sessionID,
			"fused_score", fused,
		)
	default:
		l.InfoContext(ctx, "identity rejected",
			"session_id", sessionID,
			"reason", reason.String(),
			"fused_score", fused,
		)
	}
}

// LogEnroll logs an enrollment operation.
func (l *Logger) LogEnroll(ctx context.Context, identity string, created bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "enrollment failed",
			"identity", identity,
			"error", err,
		)
	} else if created {
		l.InfoContext(ctx, "identity enrolled",
			"identity", identity,
		)
	} else {
		l.InfoContext(ctx, "identity updated",
			"identity", identity,
		)
	}
}

// LogCheckpoint logs a checkpoint save or load operation.
func (l *Logger) LogCheckpoint(ctx context.Context, op, modelName, location string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint "+op+" failed",
			"model", modelName,
			"location", location,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint "+op+" completed",
			"model", modelName,
			"location", location,
		)
	}
}

// LogTrainEpoch logs aggregate metrics for one training epoch.
func (l *Logger) LogTrainEpoch(ctx context.Context, modelName string, epoch int, loss float32, err error) {
	if err != nil {
		l.ErrorContext(ctx, "training epoch failed",
			"model", modelName,
			"epoch", epoch,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "training epoch completed",
			"model", modelName,
			"epoch", epoch,
			"loss", loss,
		)
	}
}
