package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Stage identifies which part of the pipeline a progress event describes.
type Stage string

const (
	StageSpecification Stage = "specification"
	StageTesting       Stage = "testing"
	StageDevelopment   Stage = "development"
	StageReview        Stage = "review"
	StageIdle          Stage = "idle"
)

// DefaultMaxIterations bounds the implementation/review round trips of a run.
const DefaultMaxIterations = 3

// ProgressEvent reports pipeline progress to an Observer.
type ProgressEvent struct {
	RunID         string    `json:"run_id,omitempty"`
	Stage         Stage     `json:"stage"`
	Iteration     int       `json:"iteration"`
	MaxIterations int       `json:"max_iterations"`
	Message       string    `json:"message"`
	Progress      int       `json:"progress"` // 0..100
	Outcome       Outcome   `json:"outcome,omitempty"` // set on idle events only
	Time          time.Time `json:"time"`
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeLimitReached Outcome = "limit_reached"
	OutcomeFailed       Outcome = "failed"
)

// Terminal reports whether the event ends a run.
func (e ProgressEvent) Terminal() bool { return e.Stage == StageIdle }

// Observer receives progress events synchronously, in order. Implementations
// must return quickly: stage sequencing waits on them.
type Observer interface {
	OnProgress(ev ProgressEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev ProgressEvent)

func (f ObserverFunc) OnProgress(ev ProgressEvent) { f(ev) }

type nopObserver struct{}

func (nopObserver) OnProgress(ProgressEvent) {}

// Decision is the reviewer's verdict as recognised from its output.
type Decision int

const (
	DecisionUnrecognized Decision = iota
	DecisionApproved
	DecisionRejected
)

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "approved"
	case DecisionRejected:
		return "rejected"
	default:
		return "unrecognized"
	}
}

// Verdict is derived from one review completion.
type Verdict struct {
	Feedback string   // raw review text
	Approved bool     // true iff Decision == DecisionApproved
	Decision Decision
}

// RunResult is the outcome of a run that completed without error.
// Approved false with Iterations == MaxIterations means the attempt budget ran out.
type RunResult struct {
	RunID          string `json:"run_id,omitempty"`
	Specification  string `json:"specification"`
	Tests          string `json:"tests"`
	Implementation string `json:"implementation"`
	Review         string `json:"review"`
	Approved       bool   `json:"approved"`
	Iterations     int    `json:"iterations"`
}

// RunError aborts a run. Iteration is 0 when the failure happened before the
// implementation loop, i+1 when it happened during loop iteration i.
type RunError struct {
	Stage     Stage
	Iteration int
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s stage failed (iteration %d): %v", e.Stage, e.Iteration, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// AsRunError extracts a *RunError from err's chain.
func AsRunError(err error) (*RunError, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// Phase is a state of the run state machine.
type Phase string

const (
	PhaseSpecifying Phase = "SPECIFYING"
	PhaseTesting    Phase = "TESTING"
	PhaseDeveloping Phase = "DEVELOPING"
	PhaseReviewing  Phase = "REVIEWING"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

// State is one state-machine position of a run.
type State struct {
	RunID     string
	Phase     Phase
	Iteration int
}

func (s State) String() string {
	switch s.Phase {
	case PhaseDeveloping, PhaseReviewing:
		return fmt.Sprintf("%s(%d)", s.Phase, s.Iteration)
	default:
		return string(s.Phase)
	}
}

// StateHook is called on every state transition of every run.
type StateHook func(State)
