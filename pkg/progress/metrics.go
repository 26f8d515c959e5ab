package progress

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"specforge/pkg/pipeline"
)

// Metrics counts stage events and run outcomes.
type Metrics struct {
	events     *prometheus.CounterVec
	runs       *prometheus.CounterVec
	iterations prometheus.Histogram
}

// NewMetrics registers the pipeline series on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_events_total",
			Help: "Progress events by stage and iteration.",
		}, []string{"stage", "iteration"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Finished runs by outcome (approved, limit_reached, failed).",
		}, []string{"outcome"}),
		iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_run_iterations",
			Help:    "Implementation/review round trips per finished run.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
	}
}

func (m *Metrics) OnProgress(ev pipeline.ProgressEvent) {
	if !ev.Terminal() {
		m.events.WithLabelValues(string(ev.Stage), strconv.Itoa(ev.Iteration)).Inc()
		return
	}
	m.runs.WithLabelValues(string(ev.Outcome)).Inc()
	if ev.Outcome != pipeline.OutcomeFailed {
		m.iterations.Observe(float64(ev.Iteration + 1))
	}
}
