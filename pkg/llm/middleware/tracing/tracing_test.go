package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"specforge/pkg/llm"
	"specforge/pkg/logx"
)

type fixedClient struct {
	resp llm.CompletionResponse
	err  error
}

func (f fixedClient) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	return f.resp, f.err
}

func (f fixedClient) GetModelName() string { return "gpt-5" }

func newProvider() (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)), recorder
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

func TestSpanOnSuccess(t *testing.T) {
	tp, recorder := newProvider()
	client := Middleware(tp)(fixedClient{resp: llm.CompletionResponse{Content: "spec", StopReason: "end_turn"}})

	ctx := logx.WithRunID(logx.WithStage(context.Background(), "spec"), "run-1")
	_, err := client.Complete(ctx, llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("x")}))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "llm.complete", span.Name())
	assert.Equal(t, codes.Ok, span.Status().Code)
	assert.Equal(t, "gpt-5", attr(span, "llm.model").AsString())
	assert.Equal(t, "spec", attr(span, "specforge.stage").AsString())
	assert.Equal(t, "run-1", attr(span, "specforge.run_id").AsString())
	assert.Equal(t, "end_turn", attr(span, "llm.stop_reason").AsString())
}

func TestSpanOnError(t *testing.T) {
	tp, recorder := newProvider()
	client := Middleware(tp)(fixedClient{err: errors.New("boom")})

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "unknown", attr(spans[0], "llm.error_type").AsString())
}
