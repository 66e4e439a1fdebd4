// Package metrics provides Prometheus collectors for pipeline observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ruinscan/ruinscan-go/internal/model"
)

// PipelineMetrics contains Prometheus metrics for pipeline stage execution.
type PipelineMetrics struct {
	registry *prometheus.Registry

	stagesTotal        *prometheus.CounterVec
	stageDuration      *prometheus.HistogramVec
	fallbacksTotal     *prometheus.CounterVec
	rejectionsTotal    *prometheus.CounterVec
	artifactsDetected  prometheus.Histogram
	connectivityOnline prometheus.Gauge
}

// NewPipelineMetrics creates and registers pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.stagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruinscan_pipeline_stages_total",
			Help: "Total number of executed pipeline stages",
		},
		[]string{"stage", "source", "status"},
	)

	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ruinscan_pipeline_stage_duration_seconds",
			Help: "Time taken to execute a pipeline stage",
			// 50ms to ~50s, covering synthetic delays and slow remote calls.
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"stage", "source"},
	)

	m.fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruinscan_pipeline_fallbacks_total",
			Help: "Total number of remote failures recovered by synthetic fallback",
		},
		[]string{"stage", "error_category"},
	)

	m.rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruinscan_pipeline_rejections_total",
			Help: "Total number of operations rejected before execution",
		},
		[]string{"stage", "reason"}, // reason: stage-busy, no-image-selected
	)

	m.artifactsDetected = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ruinscan_pipeline_artifacts_detected",
		Help:    "Number of artifacts per detection run",
		Buckets: prometheus.LinearBuckets(0, 3, 10),
	})

	m.connectivityOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ruinscan_connectivity_online",
		Help: "1 when the remote analysis service is considered reachable",
	})
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.stagesTotal.Describe(ch)
	m.stageDuration.Describe(ch)
	m.fallbacksTotal.Describe(ch)
	m.rejectionsTotal.Describe(ch)
	m.artifactsDetected.Describe(ch)
	m.connectivityOnline.Describe(ch)
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.stagesTotal.Collect(ch)
	m.stageDuration.Collect(ch)
	m.fallbacksTotal.Collect(ch)
	m.rejectionsTotal.Collect(ch)
	m.artifactsDetected.Collect(ch)
	m.connectivityOnline.Collect(ch)
}

// RecordStage records one completed stage execution.
func (m *PipelineMetrics) RecordStage(stage model.Stage, source model.ResultSource, status string, seconds float64) {
	m.stagesTotal.WithLabelValues(string(stage), string(source), status).Inc()
	m.stageDuration.WithLabelValues(string(stage), string(source)).Observe(seconds)
}

// RecordFallback records a remote failure recovered synthetically.
func (m *PipelineMetrics) RecordFallback(stage model.Stage, errorCategory string) {
	m.fallbacksTotal.WithLabelValues(string(stage), errorCategory).Inc()
}

// RecordRejection records a refused operation.
func (m *PipelineMetrics) RecordRejection(stage model.Stage, reason string) {
	m.rejectionsTotal.WithLabelValues(string(stage), reason).Inc()
}

// RecordArtifacts records the artifact count of a detection run.
func (m *PipelineMetrics) RecordArtifacts(count int) {
	m.artifactsDetected.Observe(float64(count))
}

// SetMode updates the connectivity gauge.
func (m *PipelineMetrics) SetMode(mode model.Mode) {
	if mode == model.ModeOnline {
		m.connectivityOnline.Set(1)
	} else {
		m.connectivityOnline.Set(0)
	}
}
