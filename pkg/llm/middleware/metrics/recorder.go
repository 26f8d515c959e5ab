// Package metrics records latency, token usage and cost of provider calls.
package metrics

import "time"

// Observation describes one finished provider call.
type Observation struct {
	RunID            string // from the request context; empty outside a pipeline run
	Model            string
	Stage            string
	ErrorType        string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Duration         time.Duration
	Success          bool
}

// Recorder receives call observations.
type Recorder interface {
	ObserveRequest(obs Observation)
	IncThrottle(model, reason string)
	ObserveQueueWait(model string, d time.Duration)
}

type nopRecorder struct{}

// Nop returns a recorder that drops everything.
func Nop() Recorder { return nopRecorder{} }

func (nopRecorder) ObserveRequest(Observation)              {}
func (nopRecorder) IncThrottle(string, string)              {}
func (nopRecorder) ObserveQueueWait(string, time.Duration) {}
