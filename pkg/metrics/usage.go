package metrics

import (
	"sort"
	"sync"
	"time"

	llmmetrics "specforge/pkg/llm/middleware/metrics"
)

// RunUsage accumulates call observations per pipeline run, keyed by the run
// ID the metrics middleware copies from the request context. Observations
// without a run ID are ignored.
type RunUsage struct {
	mu   sync.Mutex
	runs map[string]map[[2]string]*StageMetrics
}

// NewRunUsage creates an empty accumulator.
func NewRunUsage() *RunUsage {
	return &RunUsage{runs: make(map[string]map[[2]string]*StageMetrics)}
}

func (u *RunUsage) ObserveRequest(obs llmmetrics.Observation) {
	if obs.RunID == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	stages, ok := u.runs[obs.RunID]
	if !ok {
		stages = make(map[[2]string]*StageMetrics)
		u.runs[obs.RunID] = stages
	}
	key := [2]string{obs.Model, obs.Stage}
	sm, ok := stages[key]
	if !ok {
		sm = &StageMetrics{Model: obs.Model, Stage: obs.Stage}
		stages[key] = sm
	}
	sm.Requests++
	if !obs.Success {
		sm.Failures++
	}
	sm.PromptTokens += int64(obs.PromptTokens)
	sm.CompletionTokens += int64(obs.CompletionTokens)
	sm.TotalCost += obs.Cost
}

func (u *RunUsage) IncThrottle(string, string)              {}
func (u *RunUsage) ObserveQueueWait(string, time.Duration) {}

// Take returns the summary for runID and forgets it. A run with no recorded
// calls yields an empty summary.
func (u *RunUsage) Take(runID string) *Summary {
	u.mu.Lock()
	stages := u.runs[runID]
	delete(u.runs, runID)
	u.mu.Unlock()

	s := &Summary{Stages: make([]StageMetrics, 0, len(stages))}
	for _, sm := range stages {
		s.Stages = append(s.Stages, *sm)
		s.Requests += sm.Requests
		s.PromptTokens += sm.PromptTokens
		s.CompletionTokens += sm.CompletionTokens
		s.TotalCost += sm.TotalCost
	}
	s.TotalTokens = s.PromptTokens + s.CompletionTokens
	sortStages(s.Stages)
	return s
}

// Tee fans observations out to every recorder.
func Tee(recorders ...llmmetrics.Recorder) llmmetrics.Recorder {
	return tee(recorders)
}

type tee []llmmetrics.Recorder

func (t tee) ObserveRequest(obs llmmetrics.Observation) {
	for _, r := range t {
		r.ObserveRequest(obs)
	}
}

func (t tee) IncThrottle(model, reason string) {
	for _, r := range t {
		r.IncThrottle(model, reason)
	}
}

func (t tee) ObserveQueueWait(model string, d time.Duration) {
	for _, r := range t {
		r.ObserveQueueWait(model, d)
	}
}

func sortStages(stages []StageMetrics) {
	sort.Slice(stages, func(i, j int) bool {
		if stages[i].Model != stages[j].Model {
			return stages[i].Model < stages[j].Model
		}
		return stages[i].Stage < stages[j].Stage
	})
}
