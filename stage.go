package verigo

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage identifies one step of the verification state machine.
type Stage uint8

const (
	StageLiveness Stage = iota
	StageFaceMatch
	StageIrisQuality
	StageIrisMatch
	StageFusion

	numStages = int(StageFusion) + 1
)

func (s Stage) String() string {
	switch s {
	case StageLiveness:
		return "liveness_check"
	case StageFaceMatch:
		return "face_match"
	case StageIrisQuality:
		return "iris_quality_check"
	case StageIrisMatch:
		return "iris_match"
	case StageFusion:
		return "fusion"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// RejectReason tags why a verification or enrollment was rejected.
type RejectReason uint8

const (
	// RejectNone marks an accepted session.
	RejectNone RejectReason = iota
	// RejectSpoofDetected: the liveness gate classified the face as a
	// presentation attack.
	RejectSpoofDetected
	// RejectFaceMismatch: no gallery face cleared the match threshold.
	RejectFaceMismatch
	// RejectIrisInvalid: the iris was not detected or its quality is
	// too low for matching.
	RejectIrisInvalid
	// RejectIrisMismatch: no gallery iris cleared the match threshold.
	RejectIrisMismatch
	// RejectCombinedBelowThreshold: both modalities matched but the
	// fused score or a per-modality minimum fell short.
	RejectCombinedBelowThreshold

	numRejectReasons = int(RejectCombinedBelowThreshold) + 1
)

func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectSpoofDetected:
		return "spoof_detected"
	case RejectFaceMismatch:
		return "face_mismatch"
	case RejectIrisInvalid:
		return "iris_invalid"
	case RejectIrisMismatch:
		return "iris_mismatch"
	case RejectCombinedBelowThreshold:
		return "combined_below_threshold"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(r))
	}
}

// session is the ephemeral state of one pipeline call: a fresh ID and
// the wall-clock timings of the stages that ran. Sessions are never
// shared between calls and never persisted.
type session struct {
	id      string
	started time.Time
	timings map[Stage]time.Duration
}

func newSession() *session {
	return &session{
		id:      uuid.NewString(),
		started: time.Now(),
		timings: make(map[Stage]time.Duration, numStages),
	}
}

func (s *session) elapsed() time.Duration {
	return time.Since(s.started)
}
