// Package retry re-issues failed provider calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"specforge/pkg/llm/llmerrors"
	"specforge/pkg/llm/middleware/circuit"
)

// Config tunes backoff. MaxAttempts includes the first call.
type Config struct {
	MaxAttempts   int           `yaml:"max_attempts" validate:"gte=1"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" validate:"gte=1"`
	Jitter        bool          `yaml:"jitter"`
}

// DefaultConfig retries twice, starting at 100ms.
//
//nolint:gochecknoglobals // default config
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier decides whether err is worth another attempt.
type Classifier func(error) bool

// ShouldRetry is the default classifier. Classified errors decide for
// themselves; caller cancellation and open breakers are never retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var circuitErr *circuit.Error
	if errors.As(err, &circuitErr) {
		return false
	}
	if llmErr, ok := llmerrors.As(err); ok {
		return llmErr.IsRetryable()
	}
	// Per-call timeouts surface as DeadlineExceeded while the run context is still alive.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "network", "temporary", "eof", "429", "500", "502", "503", "504"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// Policy couples a Config with a Classifier.
type Policy struct {
	Classifier Classifier
	Config     Config
}

// NewPolicy returns a policy; a nil classifier means ShouldRetry.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Policy{Config: config, Classifier: classifier}
}

// Delay returns how long to wait before the given attempt (1-based).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}
	if p.Config.Jitter && delay > 0 {
		// +/-10%
		spread := float64(delay) * 0.1
		delay += time.Duration((rand.Float64()*2 - 1) * spread) //nolint:gosec // jitter only
	}
	return delay
}

// ShouldRetry applies the classifier.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
