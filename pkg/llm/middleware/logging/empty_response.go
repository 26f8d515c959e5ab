// Package logging reports suspicious provider responses without altering them.
package logging

import (
	"context"
	"strings"

	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
	"specforge/pkg/logx"
)

// maxLoggedPrompt bounds how much of each message is written to the log.
const maxLoggedPrompt = 2000

// EmptyResponseMiddleware logs the request behind an empty completion. Blank
// output is passed through unchanged; the pipeline treats it as a valid, empty artifact.
func EmptyResponseMiddleware(logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("llm")
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				switch {
				case err != nil && llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse):
					logRequest(ctx, logger.Error, next.GetModelName(), req, "empty response error")
				case err == nil && strings.TrimSpace(resp.Content) == "":
					logRequest(ctx, logger.Warn, next.GetModelName(), req, "blank completion (stop reason "+stopReason(resp)+")")
				}
				return resp, err //nolint:wrapcheck // pass-through
			},
			next.GetModelName,
		)
	}
}

func stopReason(resp llm.CompletionResponse) string {
	if resp.StopReason == "" {
		return "unknown"
	}
	return resp.StopReason
}

func logRequest(ctx context.Context, logf func(string, ...any), model string, req llm.CompletionRequest, what string) {
	logf("%s from %s (stage=%s run=%s temperature=%.2f max_tokens=%d)",
		what, model, logx.StageFrom(ctx), logx.RunIDFrom(ctx), req.Temperature, req.MaxTokens)
	for i := range req.Messages {
		logf("  message[%d] %s: %s", i, req.Messages[i].Role,
			llmerrors.SanitizePrompt(req.Messages[i].Content, maxLoggedPrompt))
	}
}
