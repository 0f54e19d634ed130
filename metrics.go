package verigo

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems, or use the
// bundled PrometheusCollector.
type MetricsCollector interface {
	// RecordVerify is called after each verification session.
	// duration is the end-to-end time, accepted reports the decision,
	// reason is the rejection reason (RejectNone when accepted), and
	// err is nil unless the session failed before reaching a decision.
	RecordVerify(duration time.Duration, accepted bool, reason RejectReason, err error)

	// RecordEnroll is called after each enrollment operation.
	RecordEnroll(duration time.Duration, err error)

	// RecordStage is called after each pipeline stage completes,
	// including stages that reject or fail the session.
	RecordStage(stage Stage, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordVerify(time.Duration, bool, RejectReason, error) {}
func (NoopMetricsCollector) RecordEnroll(time.Duration, error)                     {}
func (NoopMetricsCollector) RecordStage(Stage, time.Duration, error)               {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	VerifyCount      atomic.Int64
	VerifyAccepted   atomic.Int64
	VerifyRejected   atomic.Int64
	VerifyErrors     atomic.Int64
	VerifyTotalNanos atomic.Int64
	EnrollCount      atomic.Int64
	EnrollErrors     atomic.Int64

	stageCounts  [numStages]atomic.Int64
	stageErrors  [numStages]atomic.Int64
	rejectCounts [numRejectReasons]atomic.Int64
}

// RecordVerify implements MetricsCollector.
func (b *BasicMetricsCollector) RecordVerify(duration time.Duration, accepted bool, reason RejectReason, err error) {
	b.VerifyCount.Add(1)
	b.VerifyTotalNanos.Add(duration.Nanoseconds())
	switch {
	case err != nil:
		b.VerifyErrors.Add(1)
	case accepted:
		b.VerifyAccepted.Add(1)
	default:
		b.VerifyRejected.Add(1)
		if int(reason) < len(b.rejectCounts) {
			b.rejectCounts[reason].Add(1)
		}
	}
}

// RecordEnroll implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEnroll(duration time.Duration, err error) {
	b.EnrollCount.Add(1)
	if err != nil {
		b.EnrollErrors.Add(1)
	}
}

// RecordStage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStage(stage Stage, duration time.Duration, err error) {
	if int(stage) >= len(b.stageCounts) {
		return
	}
	b.stageCounts[stage].Add(1)
	if err != nil {
		b.stageErrors[stage].Add(1)
	}
}

// StageCount returns how many times the given stage has run.
func (b *BasicMetricsCollector) StageCount(stage Stage) int64 {
	if int(stage) >= len(b.stageCounts) {
		return 0
	}
	return b.stageCounts[stage].Load()
}

// StageErrors returns how many times the given stage has failed.
func (b *BasicMetricsCollector) StageErrors(stage Stage) int64 {
	if int(stage) >= len(b.stageErrors) {
		return 0
	}
	return b.stageErrors[stage].Load()
}

// RejectCount returns how many sessions were rejected for the given reason.
func (b *BasicMetricsCollector) RejectCount(reason RejectReason) int64 {
	if int(reason) >= len(b.rejectCounts) {
		return 0
	}
	return b.rejectCounts[reason].Load()
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		VerifyCount:    b.VerifyCount.Load(),
		VerifyAccepted: b.VerifyAccepted.Load(),
		VerifyRejected: b.VerifyRejected.Load(),
		VerifyErrors:   b.VerifyErrors.Load(),
		VerifyAvgNanos: b.getAvgVerifyNanos(),
		EnrollCount:    b.EnrollCount.Load(),
		EnrollErrors:   b.EnrollErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgVerifyNanos() int64 {
	count := b.VerifyCount.Load()
	if count == 0 {
		return 0
	}
	return b.VerifyTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	VerifyCount    int64
	VerifyAccepted int64
	VerifyRejected int64
	VerifyErrors   int64
	VerifyAvgNanos int64
	EnrollCount    int64
	EnrollErrors   int64
}

// PrometheusCollector exports pipeline metrics through a Prometheus
// registry. All metrics carry the verigo_ prefix.
type PrometheusCollector struct {
	verifications *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	verifySeconds prometheus.Histogram
	enrollments   *prometheus.CounterVec
	stageSeconds  *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
}

// NewPrometheusCollector registers the pipeline metrics with reg and
// returns a collector. Pass prometheus.DefaultRegisterer to use the
// default registry. Registering twice on the same registry panics, so
// create one collector per registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigo_verifications_total",
			Help: "Total number of verification sessions by outcome",
		}, []string{"outcome"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigo_rejections_total",
			Help: "Total number of rejected verification sessions by reason",
		}, []string{"reason"}),
		verifySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "verigo_verify_duration_seconds",
			Help:    "End-to-end verification session duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		enrollments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigo_enrollments_total",
			Help: "Total number of enrollment operations by status",
		}, []string{"status"}),
		stageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verigo_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		stageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verigo_stage_errors_total",
			Help: "Total number of pipeline stage errors by stage",
		}, []string{"stage"}),
	}
}

// RecordVerify implements MetricsCollector.
func (p *PrometheusCollector) RecordVerify(duration time.Duration, accepted bool, reason RejectReason, err error) {
	p.verifySeconds.Observe(duration.Seconds())
	switch {
	case err != nil:
		p.verifications.WithLabelValues("error").Inc()
	case accepted:
		p.verifications.WithLabelValues("accepted").Inc()
	default:
		p.verifications.WithLabelValues("rejected").Inc()
		p.rejections.WithLabelValues(reason.String()).Inc()
	}
}

// RecordEnroll implements MetricsCollector.
func (p *PrometheusCollector) RecordEnroll(duration time.Duration, err error) {
	if err != nil {
		p.enrollments.WithLabelValues("error").Inc()
	} else {
		p.enrollments.WithLabelValues("ok").Inc()
	}
}

// RecordStage implements MetricsCollector.
func (p *PrometheusCollector) RecordStage(stage Stage, duration time.Duration, err error) {
	p.stageSeconds.WithLabelValues(stage.String()).Observe(duration.Seconds())
	if err != nil {
		p.stageErrors.WithLabelValues(stage.String()).Inc()
	}
}

var (
	_ MetricsCollector = NoopMetricsCollector{}
	_ MetricsCollector = (*BasicMetricsCollector)(nil)
	_ MetricsCollector = (*PrometheusCollector)(nil)
)
