package verigo

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNilModel is returned by New when a pipeline model is missing.
	ErrNilModel = errors.New("nil model")

	// ErrNilImage is returned when a required input image is nil.
	ErrNilImage = errors.New("nil image")

	// ErrNoModalities is returned by Enroll when neither a face nor an
	// iris image is supplied.
	ErrNoModalities = errors.New("at least one modality image required")

	// ErrInvalidWeights is returned by New when the fusion weights do
	// not form a convex combination.
	ErrInvalidWeights = errors.New("fusion weights must sum to 1")

	// ErrInvalidThreshold is returned by New for a threshold outside
	// (0, 1).
	ErrInvalidThreshold = errors.New("threshold outside (0, 1)")
)

// PreprocessingError indicates a malformed input image. It is local to
// the rejected call and never retried.
//
// The underlying error can be accessed via errors.Unwrap.
type PreprocessingError struct {
	Stage Stage
	cause error
}

func (e *PreprocessingError) Error() string {
	return fmt.Sprintf("%s: preprocessing: %v", e.Stage, e.cause)
}

func (e *PreprocessingError) Unwrap() error { return e.cause }

// ModelInferenceError indicates a model fault during a pipeline stage.
// It is fatal for the session.
//
// The underlying error can be accessed via errors.Unwrap.
type ModelInferenceError struct {
	Stage Stage
	cause error
}

func (e *ModelInferenceError) Error() string {
	return fmt.Sprintf("%s: inference: %v", e.Stage, e.cause)
}

func (e *ModelInferenceError) Unwrap() error { return e.cause }

// GateFailure reports a biometric gate that rejected the input: an
// expected outcome, not a system fault. VerifyIdentity surfaces it as
// the reject reason inside VerificationResult; Enroll returns it as an
// error because a rejected enrollment has no result to carry it.
type GateFailure struct {
	Stage  Stage
	Reason RejectReason
	// Score is the value the gate evaluated: the liveness confidence
	// or the iris quality score.
	Score float32
}

func (e *GateFailure) Error() string {
	return fmt.Sprintf("%s: gate failed: %s (score %.4f)", e.Stage, e.Reason, e.Score)
}

// CheckpointError indicates missing or corrupt model weights. Callers
// loading checkpoints at startup must treat it as fatal rather than
// serve with partially initialized models.
//
// The underlying error can be accessed via errors.Unwrap.
type CheckpointError struct {
	Model string
	cause error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint: %s: %v", e.Model, e.cause)
}

func (e *CheckpointError) Unwrap() error { return e.cause }

// translateError classifies an error escaping a pipeline stage. Context
// cancellation and already classified errors pass through unchanged;
// anything else becomes a ModelInferenceError carrying the stage.
func translateError(stage Stage, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var (
		pre  *PreprocessingError
		inf  *ModelInferenceError
		gate *GateFailure
		ckpt *CheckpointError
	)
	if errors.As(err, &pre) || errors.As(err, &inf) || errors.As(err, &gate) || errors.As(err, &ckpt) {
		return err
	}

	return &ModelInferenceError{Stage: stage, cause: err}
}
