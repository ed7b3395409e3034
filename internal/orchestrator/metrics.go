package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's Prometheus instruments. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageErrors   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	guardBlocks   *prometheus.CounterVec
}

// NewMetrics registers the pipeline instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_pipeline_runs_total",
			Help: "Pipeline runs by outcome (auto_executed, execution_failed, queued).",
		}, []string{"outcome"}),
		stageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_stage_errors_total",
			Help: "Stage-local errors by stage.",
		}, []string{"stage"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_stage_duration_seconds",
			Help:    "Stage wall time.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2.5, 10),
		}, []string{"stage"}),
		guardBlocks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_hardguard_blocks_total",
			Help: "HardGuard vetoes by rule.",
		}, []string{"rule"}),
	}
}

func (m *Metrics) observeStage(stage string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if failed {
		m.stageErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) guardBlock(rule string) {
	if m == nil {
		return
	}
	m.guardBlocks.WithLabelValues(rule).Inc()
}

func (m *Metrics) run(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}
