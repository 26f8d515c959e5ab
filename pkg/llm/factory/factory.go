// Package factory builds a provider client for the configured model and wraps
// it in the resilience, metrics, logging and tracing middleware chain.
package factory

import (
	"fmt"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/trace"

	"specforge/pkg/config"
	"specforge/pkg/llm"
	"specforge/pkg/llm/internal/llmimpl/anthropic"
	"specforge/pkg/llm/internal/llmimpl/google"
	"specforge/pkg/llm/internal/llmimpl/ollama"
	"specforge/pkg/llm/internal/llmimpl/openaicompat"
	"specforge/pkg/llm/internal/llmimpl/openaiofficial"
	"specforge/pkg/llm/middleware/circuit"
	"specforge/pkg/llm/middleware/logging"
	"specforge/pkg/llm/middleware/metrics"
	"specforge/pkg/llm/middleware/ratelimit"
	"specforge/pkg/llm/middleware/retry"
	"specforge/pkg/llm/middleware/timeout"
	"specforge/pkg/llm/middleware/tracing"
	"specforge/pkg/logx"
)

// Deps are the shared collaborators of every client built by a Factory.
type Deps struct {
	Recorder       metrics.Recorder     // nil disables metrics
	TracerProvider trace.TracerProvider // nil disables tracing
	Logger         *logx.Logger
}

// Factory creates middleware-wrapped clients. Breakers and limiters are
// created once and shared by every client the factory builds, so concurrent
// runs against the same provider share its budget.
type Factory struct {
	cfg     *config.Config
	deps    Deps
	breaker *circuit.Breaker
	limiter *ratelimit.Limiter
}

// New validates cfg and prepares shared middleware state.
func New(cfg *config.Config, deps Deps) (*Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logx.NewLogger("llm")
	}

	breaker := circuit.New(cfg.Resilience.CircuitBreaker)
	logger := deps.Logger
	model := cfg.Model.Name
	breaker.OnTransition(func(from, to circuit.State) {
		logger.Warn("circuit breaker for %s: %s -> %s", model, from, to)
	})

	return &Factory{
		cfg:     cfg,
		deps:    deps,
		breaker: breaker,
		limiter: ratelimit.NewLimiter(cfg.Model.Name, cfg.Resilience.RateLimit),
	}, nil
}

// Client builds the raw provider client and wraps it.
func (f *Factory) Client() (llm.LLMClient, error) {
	raw, err := f.rawClient()
	if err != nil {
		return nil, err
	}
	return f.Wrap(raw), nil
}

// Wrap applies the middleware chain to any client. Outermost first:
// tracing -> metrics -> empty-response logging -> circuit breaker -> retry -> rate limit -> timeout.
func (f *Factory) Wrap(raw llm.LLMClient) llm.LLMClient {
	var mws []llm.Middleware
	if f.deps.TracerProvider != nil {
		mws = append(mws, tracing.Middleware(f.deps.TracerProvider))
	}
	if f.deps.Recorder != nil {
		mws = append(mws, metrics.Middleware(f.deps.Recorder, nil, config.CalculateCost, f.deps.Logger))
	}
	recorder := f.deps.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}
	mws = append(mws,
		logging.EmptyResponseMiddleware(f.deps.Logger),
		circuit.Middleware(f.breaker),
		retry.Middleware(retry.NewPolicy(f.cfg.Resilience.Retry, nil)),
		ratelimit.Middleware(f.limiter, recorder),
		timeout.Middleware(f.cfg.Resilience.RequestTimeout),
	)
	return llm.Chain(raw, mws...)
}

// Breaker exposes the shared circuit breaker.
func (f *Factory) Breaker() *circuit.Breaker { return f.breaker }

// Limiter exposes the shared rate limiter.
func (f *Factory) Limiter() *ratelimit.Limiter { return f.limiter }

func (f *Factory) rawClient() (llm.LLMClient, error) {
	provider, err := f.cfg.Provider()
	if err != nil {
		return nil, err
	}
	key, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("credentials for %s: %w", provider, err)
	}

	model := f.cfg.Model.Name
	baseURL := f.cfg.Model.BaseURL
	info, _ := config.GetModelInfo(model)

	switch provider {
	case config.ProviderAnthropic:
		var opts []anthropicopt.RequestOption
		if baseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(baseURL))
		}
		return anthropic.New(key, model, opts...), nil
	case config.ProviderOpenAI:
		var opts []openaiopt.RequestOption
		if baseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(baseURL))
		}
		return openaiofficial.New(key, model, info.MaxOutputTokens, opts...), nil
	case config.ProviderOpenAICompat:
		return openaicompat.New(key, baseURL, model), nil
	case config.ProviderGoogle:
		return google.New(key, model), nil
	case config.ProviderOllama:
		host := key
		if baseURL != "" {
			host = baseURL
		}
		return ollama.New(host, model, nil)
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}
