// Package timeout bounds every provider call with a deadline.
package timeout

import (
	"context"
	"time"

	"specforge/pkg/llm"
)

// Middleware gives each Complete call its own deadline. A zero or negative
// duration disables the bound.
func Middleware(d time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if d <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				callCtx, cancel := context.WithTimeout(ctx, d)
				defer cancel()
				return next.Complete(callCtx, req)
			},
			next.GetModelName,
		)
	}
}
