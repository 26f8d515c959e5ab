// Package ratelimit throttles provider calls by estimated tokens per minute and by concurrency.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"specforge/pkg/llm"
	"specforge/pkg/llm/middleware/metrics"
	"specforge/pkg/logx"
	"specforge/pkg/tokens"
)

// bufferFactor leaves headroom for token estimation error.
const bufferFactor = 0.9

// Config sets the per-model budget.
type Config struct {
	TokensPerMinute int `yaml:"tokens_per_minute" validate:"gte=0"`
	MaxConcurrency  int `yaml:"max_concurrency" validate:"gte=0"`
}

// Stats is a snapshot of limiter activity.
type Stats struct {
	Model           string
	Active          int64
	MaxConcurrency  int
	TokenLimitHits  int64
	ConcurrencyHits int64
}

// Limiter combines a token bucket with a concurrency semaphore.
type Limiter struct {
	model    string
	bucket   *rate.Limiter // nil when tokens are unlimited
	slots    chan struct{} // nil when concurrency is unlimited
	maxConc  int
	active   atomic.Int64
	tokHits  atomic.Int64
	concHits atomic.Int64
}

// NewLimiter builds a limiter. Zero values disable the corresponding bound.
func NewLimiter(model string, cfg Config) *Limiter {
	l := &Limiter{model: model, maxConc: cfg.MaxConcurrency}
	if cfg.TokensPerMinute > 0 {
		burst := int(float64(cfg.TokensPerMinute) * bufferFactor)
		if burst < 1 {
			burst = 1
		}
		l.bucket = rate.NewLimiter(rate.Limit(float64(cfg.TokensPerMinute)/60.0), burst)
	}
	if cfg.MaxConcurrency > 0 {
		l.slots = make(chan struct{}, cfg.MaxConcurrency)
	}
	return l
}

// Acquire waits for n tokens and one concurrency slot. The returned release
// function must be called once the call finishes.
func (l *Limiter) Acquire(ctx context.Context, n int) (func(), error) {
	if l.slots != nil {
		select {
		case l.slots <- struct{}{}:
		default:
			l.concHits.Add(1)
			select {
			case l.slots <- struct{}{}:
			case <-ctx.Done():
				return nil, fmt.Errorf("waiting for %s concurrency slot: %w", l.model, ctx.Err())
			}
		}
	}

	if l.bucket != nil && n > 0 {
		// Requests larger than the bucket would never be admitted.
		if n > l.bucket.Burst() {
			n = l.bucket.Burst()
		}
		if !l.bucket.AllowN(time.Now(), n) {
			l.tokHits.Add(1)
			if err := l.bucket.WaitN(ctx, n); err != nil {
				l.releaseSlot()
				return nil, fmt.Errorf("waiting for %s token budget: %w", l.model, err)
			}
		}
	}

	l.active.Add(1)
	released := atomic.Bool{}
	return func() {
		if released.CompareAndSwap(false, true) {
			l.active.Add(-1)
			l.releaseSlot()
		}
	}, nil
}

func (l *Limiter) releaseSlot() {
	if l.slots != nil {
		<-l.slots
	}
}

// Stats returns current counters.
func (l *Limiter) Stats() Stats {
	return Stats{
		Model:           l.model,
		Active:          l.active.Load(),
		MaxConcurrency:  l.maxConc,
		TokenLimitHits:  l.tokHits.Load(),
		ConcurrencyHits: l.concHits.Load(),
	}
}

// Middleware acquires budget for prompt tokens plus the requested completion
// bound before each call.
func Middleware(l *Limiter, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	logger := logx.NewLogger("ratelimit")
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()
				need := tokens.Default().CountRequest(req) + req.MaxTokens

				before := l.Stats()
				start := time.Now()
				release, err := l.Acquire(ctx, need)
				wait := time.Since(start)
				if err != nil {
					recorder.IncThrottle(model, "canceled")
					return llm.CompletionResponse{}, err
				}
				defer release()

				after := l.Stats()
				if after.TokenLimitHits > before.TokenLimitHits {
					recorder.IncThrottle(model, "tokens")
				}
				if after.ConcurrencyHits > before.ConcurrencyHits {
					recorder.IncThrottle(model, "concurrency")
				}
				recorder.ObserveQueueWait(model, wait)
				if wait > time.Second {
					logger.Info("%s waited %s for rate limit (%d tokens)", model, wait.Round(time.Millisecond), need)
				}
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
