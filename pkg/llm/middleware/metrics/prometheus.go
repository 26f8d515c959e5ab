package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder exports observations as Prometheus series.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	queueWaitTime   *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the LLM series on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "LLM requests by model, stage and outcome.",
		}, []string{"model", "stage", "status", "error_type"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Tokens consumed by LLM requests.",
		}, []string{"model", "stage", "type"}),
		costsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_costs_total",
			Help: "Estimated LLM spend in USD.",
		}, []string{"model", "stage"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request latency.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"model", "stage"}),
		throttleTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_throttle_total",
			Help: "Requests delayed or rejected by the client-side rate limiter.",
		}, []string{"model", "reason"}),
		queueWaitTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llm_queue_wait_duration_seconds",
			Help:    "Time spent waiting for rate limit capacity.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
	}
}

func (p *PrometheusRecorder) ObserveRequest(obs Observation) {
	status := "success"
	if !obs.Success {
		status = "error"
	}
	p.requestsTotal.WithLabelValues(obs.Model, obs.Stage, status, obs.ErrorType).Inc()
	if obs.Success {
		p.tokensTotal.WithLabelValues(obs.Model, obs.Stage, "prompt").Add(float64(obs.PromptTokens))
		p.tokensTotal.WithLabelValues(obs.Model, obs.Stage, "completion").Add(float64(obs.CompletionTokens))
		p.costsTotal.WithLabelValues(obs.Model, obs.Stage).Add(obs.Cost)
	}
	p.requestDuration.WithLabelValues(obs.Model, obs.Stage).Observe(obs.Duration.Seconds())
}

func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}

func (p *PrometheusRecorder) ObserveQueueWait(model string, d time.Duration) {
	p.queueWaitTime.WithLabelValues(model).Observe(d.Seconds())
}
