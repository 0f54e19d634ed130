package verigo

import (
	"fmt"
	"log/slog"

	"github.com/hupe1980/verigo/gallery"
)

// Default ensemble parameters. Iris carries the larger fusion weight
// and the stricter thresholds, reflecting iris pattern uniqueness.
const (
	DefaultFaceWeight         float32 = 0.4
	DefaultIrisWeight         float32 = 0.6
	DefaultCombinedThreshold  float32 = 0.92
	DefaultMinFaceScore       float32 = 0.85
	DefaultMinIrisScore       float32 = 0.90
	DefaultFaceMatchThreshold float32 = 0.85
	DefaultIrisMatchThreshold float32 = 0.92
)

// weightEpsilon is the tolerance for the fusion weight sum check.
const weightEpsilon = 1e-6

type options struct {
	store             gallery.Store
	faceWeight        float32
	irisWeight        float32
	combinedThreshold float32
	minFaceScore      float32
	minIrisScore      float32
	faceThreshold     float32
	irisThreshold     float32
	metrics           MetricsCollector
	logger            *Logger
}

// Option configures Pipeline construction.
type Option func(*options)

// WithGallery sets the identity store the pipeline matches against and
// enrolls into. Defaults to a fresh in-memory store.
func WithGallery(s gallery.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithFusionWeights sets the ensemble weights applied to the face and
// iris similarities. They must sum to 1.
func WithFusionWeights(face, iris float32) Option {
	return func(o *options) {
		o.faceWeight = face
		o.irisWeight = iris
	}
}

// WithCombinedThreshold sets the fused score a session must reach for
// acceptance, on top of both per-modality matches.
func WithCombinedThreshold(t float32) Option {
	return func(o *options) {
		o.combinedThreshold = t
	}
}

// WithMinScores sets per-modality floors applied during fusion: even
// when both matches clear their thresholds, a similarity below its
// floor rejects the session.
func WithMinScores(face, iris float32) Option {
	return func(o *options) {
		o.minFaceScore = face
		o.minIrisScore = iris
	}
}

// WithMatchThresholds sets the cosine similarity each modality must
// reach to count as a gallery match.
func WithMatchThresholds(face, iris float32) Option {
	return func(o *options) {
		o.faceThreshold = face
		o.irisThreshold = iris
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// pipeline operations.
//
// Example with BasicMetricsCollector:
//
//	metrics := &verigo.BasicMetricsCollector{}
//	pipe, _ := verigo.New(models, verigo.WithMetricsCollector(metrics))
//	// ... use pipe ...
//	stats := metrics.GetStats()
//	fmt.Printf("Sessions: %d, accepted: %d\n", stats.VerifyCount, stats.VerifyAccepted)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.metrics = mc
		}
	}
}

// WithLogger configures structured logging for pipeline operations.
//
// Example with JSON logging:
//
//	logger := verigo.NewJSONLogger(slog.LevelInfo)
//	pipe, _ := verigo.New(models, verigo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogLevel creates a text logger with the specified level and sets
// it. Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		faceWeight:        DefaultFaceWeight,
		irisWeight:        DefaultIrisWeight,
		combinedThreshold: DefaultCombinedThreshold,
		minFaceScore:      DefaultMinFaceScore,
		minIrisScore:      DefaultMinIrisScore,
		faceThreshold:     DefaultFaceMatchThreshold,
		irisThreshold:     DefaultIrisMatchThreshold,
		metrics:           NoopMetricsCollector{},
		logger:            NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}

	return o
}

func (o *options) validate() error {
	if o.faceWeight < 0 || o.irisWeight < 0 {
		return fmt.Errorf("verigo: negative fusion weight: %w", ErrInvalidWeights)
	}

	if d := o.faceWeight + o.irisWeight - 1; d > weightEpsilon || d < -weightEpsilon {
		return fmt.Errorf("verigo: fusion weights %v + %v: %w", o.faceWeight, o.irisWeight, ErrInvalidWeights)
	}

	thresholds := []struct {
		name  string
		value float32
	}{
		{"combined threshold", o.combinedThreshold},
		{"min face score", o.minFaceScore},
		{"min iris score", o.minIrisScore},
		{"face match threshold", o.faceThreshold},
		{"iris match threshold", o.irisThreshold},
	}
	for _, t := range thresholds {
		if t.value <= 0 || t.value >= 1 {
			return fmt.Errorf("verigo: %s %v: %w", t.name, t.value, ErrInvalidThreshold)
		}
	}

	return nil
}
