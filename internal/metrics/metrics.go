// Package metrics exposes analysis counters in Prometheus format.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Run counters
	RunsStarted   atomic.Uint64
	RunsCompleted atomic.Uint64
	RunsFailed    atomic.Uint64
	RunsCanceled  atomic.Uint64
	RunsDegraded  atomic.Uint64
	ActiveRuns    atomic.Int64

	// Frame counters
	FramesSampled    atomic.Uint64
	FramesSynthetic  atomic.Uint64
	DetectionsTotal  atomic.Uint64
	AnnotationErrors atomic.Uint64

	detectLatency prometheus.Histogram
	registry      *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mindwatch_detect_seconds",
			Help:    "Time spent detecting one frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name string
		help string
		v    *atomic.Uint64
	}{
		{"mindwatch_runs_started_total", "Analysis runs started", &m.RunsStarted},
		{"mindwatch_runs_completed_total", "Analysis runs that reached done", &m.RunsCompleted},
		{"mindwatch_runs_failed_total", "Analysis runs that failed", &m.RunsFailed},
		{"mindwatch_runs_canceled_total", "Analysis runs canceled before completion", &m.RunsCanceled},
		{"mindwatch_runs_degraded_total", "Analysis runs that used synthetic detections", &m.RunsDegraded},
		{"mindwatch_frames_sampled_total", "Frames passed to the detector", &m.FramesSampled},
		{"mindwatch_frames_synthetic_total", "Frames served by synthetic detection", &m.FramesSynthetic},
		{"mindwatch_detections_total", "Detections produced across all frames", &m.DetectionsTotal},
		{"mindwatch_annotation_errors_total", "Annotated output frames that failed to write", &m.AnnotationErrors},
	}

	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mindwatch_active_runs",
			Help: "Analysis runs currently in progress",
		},
		func() float64 { return float64(m.ActiveRuns.Load()) },
	))

	m.registry.MustRegister(m.detectLatency)
}

// RunStarted records the start of a run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Add(1)
	m.ActiveRuns.Add(1)
}

// RunFinished records the end of a run with its outcome.
func (m *Metrics) RunFinished(failed, canceled, degraded bool) {
	if m == nil {
		return
	}
	m.ActiveRuns.Add(-1)
	switch {
	case canceled:
		m.RunsCanceled.Add(1)
	case failed:
		m.RunsFailed.Add(1)
	default:
		m.RunsCompleted.Add(1)
	}
	if degraded {
		m.RunsDegraded.Add(1)
	}
}

// FrameDetected records one detected frame.
func (m *Metrics) FrameDetected(detections int, synthetic bool, took time.Duration) {
	if m == nil {
		return
	}
	m.FramesSampled.Add(1)
	m.DetectionsTotal.Add(uint64(detections))
	if synthetic {
		m.FramesSynthetic.Add(1)
	}
	m.detectLatency.Observe(took.Seconds())
}

// AnnotationFailed records a failed annotated-output write.
func (m *Metrics) AnnotationFailed() {
	if m == nil {
		return
	}
	m.AnnotationErrors.Add(1)
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
