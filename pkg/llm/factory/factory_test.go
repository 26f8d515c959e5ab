package factory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"specforge/pkg/config"
	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
	"specforge/pkg/llm/middleware/circuit"
	"specforge/pkg/llm/middleware/metrics"
	"specforge/pkg/logx"
)

type scripted struct {
	errs  []error
	calls int
}

func (s *scripted) Complete(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.CompletionResponse{}, s.errs[i]
	}
	return llm.CompletionResponse{Content: "ok", Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 2}}, nil
}

func (s *scripted) GetModelName() string { return config.DefaultModel }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Resilience.Retry.InitialDelay = time.Millisecond
	cfg.Resilience.Retry.MaxDelay = time.Millisecond
	cfg.Resilience.Retry.Jitter = false
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.MaxIterations = 0
	_, err := New(cfg, Deps{})
	assert.Error(t, err)

	_, err = New(nil, Deps{})
	assert.Error(t, err)
}

func TestWrapRetriesAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	f, err := New(testConfig(), Deps{Recorder: recorder, TracerProvider: tp})
	require.NoError(t, err)

	base := &scripted{errs: []error{llmerrors.NewError(llmerrors.ErrorTypeTransient, "503")}}
	client := f.Wrap(base)

	ctx := logx.WithStage(context.Background(), "spec")
	resp, err := client.Complete(ctx, llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, base.calls)

	count, err := testutil.GatherAndCount(reg, "llm_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, spans.Ended(), 1)
	assert.Equal(t, circuit.Closed, f.Breaker().State())
}

func TestWrapOpensBreakerOnPersistentFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Resilience.Retry.MaxAttempts = 1
	cfg.Resilience.CircuitBreaker.FailureThreshold = 2
	f, err := New(cfg, Deps{})
	require.NoError(t, err)

	boom := llmerrors.NewError(llmerrors.ErrorTypeTransient, "down")
	base := &scripted{errs: []error{boom, boom, boom, boom}}
	client := f.Wrap(base)
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")})

	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), req)
		require.Error(t, err)
	}
	_, err = client.Complete(context.Background(), req)
	var circuitErr *circuit.Error
	assert.True(t, errors.As(err, &circuitErr))
	assert.Equal(t, 2, base.calls)
}

func TestClientBuildsEachProvider(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "a")
	t.Setenv(config.EnvOpenAIAPIKey, "o")
	t.Setenv(config.EnvGoogleAPIKey, "g")

	cases := []struct {
		model, provider, baseURL string
	}{
		{"claude-sonnet-4-5", "", ""},
		{"gpt-5", "", ""},
		{"gemini-2.5-flash", "", ""},
		{"llama3.1", "", ""},
		{"my-served-model", config.ProviderOpenAICompat, "http://localhost:8000/v1"},
	}
	for _, tc := range cases {
		cfg := testConfig()
		cfg.Model.Name = tc.model
		cfg.Model.Provider = tc.provider
		cfg.Model.BaseURL = tc.baseURL
		f, err := New(cfg, Deps{})
		require.NoError(t, err, tc.model)
		client, err := f.Client()
		require.NoError(t, err, tc.model)
		assert.Equal(t, tc.model, client.GetModelName())
	}
}

func TestClientMissingKey(t *testing.T) {
	t.Setenv(config.EnvAnthropicAPIKey, "")
	f, err := New(testConfig(), Deps{})
	require.NoError(t, err)
	_, err = f.Client()
	assert.ErrorContains(t, err, "credentials for anthropic")
}
