package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/pkg/llm"
)

func TestAcquireUnlimited(t *testing.T) {
	l := NewLimiter("m", Config{})
	release, err := l.Acquire(context.Background(), 1_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, l.Stats().Active)
	release()
	release()
	assert.EqualValues(t, 0, l.Stats().Active)
}

func TestConcurrencyBound(t *testing.T) {
	l := NewLimiter("m", Config{MaxConcurrency: 1})
	release, err := l.Acquire(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, l.Stats().ConcurrencyHits)

	release()
	release2, err := l.Acquire(context.Background(), 0)
	require.NoError(t, err)
	release2()
}

func TestTokenBudgetBlocks(t *testing.T) {
	// 600 tokens/min => burst 540, refill 10/s.
	l := NewLimiter("m", Config{TokensPerMinute: 600})
	release, err := l.Acquire(context.Background(), 540)
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, 500)
	require.Error(t, err)
	assert.EqualValues(t, 1, l.Stats().TokenLimitHits)
}

type countingClient struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (c *countingClient) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	n := c.inFlight.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	c.inFlight.Add(-1)
	return llm.CompletionResponse{Content: "ok"}, nil
}

func (c *countingClient) GetModelName() string { return "m" }

func TestMiddlewareLimitsConcurrency(t *testing.T) {
	base := &countingClient{}
	client := llm.Chain(base, Middleware(NewLimiter("m", Config{MaxConcurrency: 2}), nil))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, base.peak.Load(), int32(2))
}
