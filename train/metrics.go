package train

import (
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/time/rate"
)

// MetricSink receives scalar training metrics. Implementations must be
// safe for concurrent use; TrainAll records from several models at once.
type MetricSink interface {
	Record(stage string, epoch int, name string, value float32)
}

// Compile time checks to ensure the sinks satisfy the interface.
var (
	_ MetricSink = (*MemorySink)(nil)
	_ MetricSink = (*SlogSink)(nil)
)

// MetricPoint is one recorded metric.
type MetricPoint struct {
	Stage string
	Epoch int
	Name  string
	Value float32
}

// MemorySink retains every recorded metric in order. It backs tests and
// post-run inspection of small runs; long runs should prefer SlogSink.
type MemorySink struct {
	mu     sync.Mutex
	points []MetricPoint
}

// Record implements MetricSink.
func (s *MemorySink) Record(stage string, epoch int, name string, value float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.points = append(s.points, MetricPoint{Stage: stage, Epoch: epoch, Name: name, Value: value})
}

// Points returns a copy of everything recorded so far.
func (s *MemorySink) Points() []MetricPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.points)
}

// Last returns the most recent value recorded for stage and name.
func (s *MemorySink) Last(stage, name string) (float32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.points) - 1; i >= 0; i-- {
		if s.points[i].Stage == stage && s.points[i].Name == name {
			return s.points[i].Value, true
		}
	}

	return 0, false
}

// SlogSink forwards metrics to a structured logger, dropping records that
// exceed the configured rate so batch-level metrics cannot flood the log.
type SlogSink struct {
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewSlogSink creates a sink writing to logger. perSec bounds the record
// rate; zero or negative means unbounded. A nil logger uses slog.Default.
func NewSlogSink(logger *slog.Logger, perSec rate.Limit) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}

	s := &SlogSink{logger: logger}
	if perSec > 0 {
		s.limiter = rate.NewLimiter(perSec, 1)
	}

	return s
}

// Record implements MetricSink.
func (s *SlogSink) Record(stage string, epoch int, name string, value float32) {
	if s.limiter != nil && !s.limiter.Allow() {
		return
	}

	s.logger.Info("metric",
		slog.String("stage", stage),
		slog.Int("epoch", epoch),
		slog.String("name", name),
		slog.Float64("value", float64(value)),
	)
}
