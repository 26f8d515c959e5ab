// Package metrics owns the process Prometheus registry and turns the LLM
// series into per-stage summaries and text exposition dumps.
package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	llmmetrics "specforge/pkg/llm/middleware/metrics"
)

// Registry bundles a private registry with the LLM recorder registered on it.
type Registry struct {
	reg      *prometheus.Registry
	recorder *llmmetrics.PrometheusRecorder
}

// NewRegistry creates a registry with the LLM series and Go runtime collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return &Registry{
		reg:      reg,
		recorder: llmmetrics.NewPrometheusRecorder(reg),
	}
}

// Recorder returns the recorder to hand to the client factory.
func (r *Registry) Recorder() *llmmetrics.PrometheusRecorder { return r.recorder }

// Registerer exposes the registry for other collectors (progress counters).
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Gatherer exposes the registry for reads.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// StageMetrics aggregates token and cost usage for one model and stage.
type StageMetrics struct {
	Model            string  `json:"model"`
	Stage            string  `json:"stage"`
	Requests         int64   `json:"requests"`
	Failures         int64   `json:"failures"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// Summary is the aggregated usage across all stages.
type Summary struct {
	Stages           []StageMetrics `json:"stages"`
	Requests         int64          `json:"requests"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	TotalTokens      int64          `json:"total_tokens"`
	TotalCost        float64        `json:"total_cost_usd"`
}

// Summarize reads the LLM series from g.
func Summarize(g prometheus.Gatherer) (*Summary, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	byKey := make(map[[2]string]*StageMetrics)
	entry := func(m *dto.Metric) *StageMetrics {
		key := [2]string{label(m, "model"), label(m, "stage")}
		sm, ok := byKey[key]
		if !ok {
			sm = &StageMetrics{Model: key[0], Stage: key[1]}
			byKey[key] = sm
		}
		return sm
	}

	for _, mf := range families {
		switch mf.GetName() {
		case "llm_requests_total":
			for _, m := range mf.GetMetric() {
				n := int64(m.GetCounter().GetValue())
				sm := entry(m)
				sm.Requests += n
				if label(m, "status") != "success" {
					sm.Failures += n
				}
			}
		case "llm_tokens_total":
			for _, m := range mf.GetMetric() {
				n := int64(m.GetCounter().GetValue())
				switch label(m, "type") {
				case "prompt":
					entry(m).PromptTokens += n
				case "completion":
					entry(m).CompletionTokens += n
				}
			}
		case "llm_costs_total":
			for _, m := range mf.GetMetric() {
				entry(m).TotalCost += m.GetCounter().GetValue()
			}
		}
	}

	s := &Summary{Stages: make([]StageMetrics, 0, len(byKey))}
	for _, sm := range byKey {
		s.Stages = append(s.Stages, *sm)
		s.Requests += sm.Requests
		s.PromptTokens += sm.PromptTokens
		s.CompletionTokens += sm.CompletionTokens
		s.TotalCost += sm.TotalCost
	}
	s.TotalTokens = s.PromptTokens + s.CompletionTokens
	sortStages(s.Stages)
	return s, nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// WriteText writes every family in g in the Prometheus text format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Dump writes the text exposition to path, creating parent directories.
func Dump(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics dump: %w", err)
	}
	if err := WriteText(f, g); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close metrics dump: %w", err)
	}
	return nil
}
