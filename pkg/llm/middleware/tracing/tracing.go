// Package tracing wraps provider calls in OpenTelemetry spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
	"specforge/pkg/logx"
	"specforge/pkg/tokens"
)

// TracerName identifies spans produced by this package.
const TracerName = "specforge/llm"

// Middleware starts an "llm.complete" span per call. A nil provider uses the global one.
func Middleware(tp trace.TracerProvider) llm.Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(TracerName)
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				ctx, span := tracer.Start(ctx, "llm.complete", trace.WithAttributes(
					attribute.String("llm.model", next.GetModelName()),
					attribute.String("specforge.stage", logx.StageFrom(ctx)),
					attribute.String("specforge.run_id", logx.RunIDFrom(ctx)),
					attribute.Int("llm.max_tokens", req.MaxTokens),
					attribute.Float64("llm.temperature", float64(req.Temperature)),
				))
				defer span.End()

				resp, err := next.Complete(ctx, req)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					span.SetAttributes(attribute.String("llm.error_type", llmerrors.TypeOf(err).String()))
					return resp, err //nolint:wrapcheck // pass-through
				}
				prompt, completion := tokens.Usage(req, resp)
				span.SetAttributes(
					attribute.Int("llm.prompt_tokens", prompt),
					attribute.Int("llm.completion_tokens", completion),
					attribute.String("llm.stop_reason", resp.StopReason),
				)
				span.SetStatus(codes.Ok, "")
				return resp, nil
			},
			next.GetModelName,
		)
	}
}
