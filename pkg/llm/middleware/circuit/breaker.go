// Package circuit stops calling a provider after repeated failures and probes it again after a cool-down.
package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"specforge/pkg/llm"
)

// State is the breaker position.
type State int

const (
	Closed   State = iota // calls flow
	Open                  // calls rejected
	HalfOpen              // probing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes the breaker.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"gte=1"`
	SuccessThreshold int           `yaml:"success_threshold" validate:"gte=1"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DefaultConfig opens after five consecutive failures and retries after 30s.
//
//nolint:gochecknoglobals // default config
var DefaultConfig = Config{
	FailureThreshold: 5,
	SuccessThreshold: 3,
	Timeout:          30 * time.Second,
}

// Error is returned instead of calling the provider while the breaker is open.
type Error struct {
	State State
	Model string
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker for %s is %s", e.Model, e.State)
}

// Breaker tracks provider health.
//
//nolint:govet // grouped by meaning
type Breaker struct {
	config       Config
	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	openedAt     time.Time
	now          func() time.Time
	onTransition func(from, to State)
}

// New creates a closed breaker.
func New(config Config) *Breaker {
	return &Breaker{config: config, state: Closed, now: time.Now}
}

// OnTransition registers a callback invoked (under the breaker lock) on every state change.
func (b *Breaker) OnTransition(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = fn
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}

// Allow reports whether a call may proceed, moving Open to HalfOpen once the cool-down elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return true
	case Open:
		if b.now().Sub(b.openedAt) >= b.config.Timeout {
			b.successes = 0
			b.setState(HalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// Record feeds the outcome of one call.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		switch b.state {
		case Closed:
			b.failures = 0
		case HalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				b.failures, b.successes = 0, 0
				b.setState(Closed)
			}
		}
		return
	}

	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.config.FailureThreshold {
			b.openedAt = b.now()
			b.setState(Open)
		}
	case HalfOpen:
		b.successes = 0
		b.openedAt = b.now()
		b.setState(Open)
	}
}

// State returns the current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures, b.successes = 0, 0
	b.setState(Closed)
}

// Middleware rejects calls while b is open. Context cancellation by the caller
// is not counted as a provider failure.
func Middleware(b *Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if !b.Allow() {
					return llm.CompletionResponse{}, &Error{State: b.State(), Model: next.GetModelName()}
				}
				resp, err := next.Complete(ctx, req)
				if err != nil && ctx.Err() != nil {
					return resp, err //nolint:wrapcheck // pass-through
				}
				b.Record(err == nil)
				return resp, err //nolint:wrapcheck // pass-through
			},
			next.GetModelName,
		)
	}
}
