package metrics

import (
	"context"
	"errors"
	"time"

	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
	"specforge/pkg/llm/middleware/circuit"
	"specforge/pkg/logx"
	"specforge/pkg/tokens"
)

// UsageExtractor returns prompt and completion token counts for a call.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (prompt, completion int)

// CostFunc prices a call in USD.
type CostFunc func(model string, prompt, completion int) float64

// Middleware observes every call. The stage label comes from the context set by the pipeline.
func Middleware(recorder Recorder, usage UsageExtractor, cost CostFunc, logger *logx.Logger) llm.Middleware {
	if usage == nil {
		usage = tokens.Usage
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				model := next.GetModelName()
				stage := logx.StageFrom(ctx)
				obs := Observation{
					RunID:    logx.RunIDFrom(ctx),
					Model:    model,
					Stage:    stage,
					Duration: duration,
					Success:  err == nil,
				}
				if err == nil {
					obs.PromptTokens, obs.CompletionTokens = usage(req, resp)
					if cost != nil {
						obs.Cost = cost(model, obs.PromptTokens, obs.CompletionTokens)
					}
				} else {
					obs.ErrorType = errorLabel(err)
				}
				recorder.ObserveRequest(obs)

				if logger != nil {
					status := "success"
					if err != nil {
						status = "error"
					}
					logger.Info("LLM request: model=%s stage=%s tokens=%d+%d cost=$%.4f status=%s duration=%dms",
						model, stage, obs.PromptTokens, obs.CompletionTokens, obs.Cost, status, duration.Milliseconds())
				}
				return resp, err //nolint:wrapcheck // pass-through
			},
			next.GetModelName,
		)
	}
}

// errorLabel keeps the error_type label set small.
func errorLabel(err error) string {
	var circuitErr *circuit.Error
	switch {
	case errors.As(err, &circuitErr):
		return "circuit_breaker"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	if llmErr, ok := llmerrors.As(err); ok {
		return llmErr.Type.String()
	}
	return "unknown"
}
