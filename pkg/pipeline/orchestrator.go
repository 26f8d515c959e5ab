package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"specforge/pkg/config"
	"specforge/pkg/llm"
	"specforge/pkg/logx"
	"specforge/pkg/templates"
)

// TracerName identifies run and stage spans.
const TracerName = "specforge/pipeline"

// Orchestrator runs the generation pipeline against one client.
type Orchestrator struct {
	client   llm.LLMClient
	renderer *templates.Renderer
	logger   *logx.Logger
	tracer   trace.Tracer
	hook     StateHook

	maxIterations   int
	maxTokens       int
	temperature     float32 // specification and review
	codeTemperature float32 // tests and implementation

	language  string
	framework string
	module    string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxIterations sets the implementation/review budget; n must be >= 1.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) { o.maxIterations = n }
}

// WithTarget sets the language, test framework and module name the prompts ask for.
func WithTarget(language, framework, module string) Option {
	return func(o *Orchestrator) {
		o.language, o.framework, o.module = language, framework, module
	}
}

// WithMaxTokens caps each completion.
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) { o.maxTokens = n }
}

// WithTemperatures sets the sampling temperature for prose stages and code stages.
func WithTemperatures(prose, code float32) Option {
	return func(o *Orchestrator) { o.temperature, o.codeTemperature = prose, code }
}

// WithTracerProvider enables run and stage spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) {
		if tp != nil {
			o.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithStateHook registers a callback for state-machine transitions.
func WithStateHook(h StateHook) Option {
	return func(o *Orchestrator) { o.hook = h }
}

// WithLogger replaces the default "pipeline" logger.
func WithLogger(l *logx.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator. Defaults: DefaultMaxIterations, Python/pytest
// tests importing "feature_module", llm.DefaultMaxTokens.
func New(client llm.LLMClient, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, errors.New("pipeline: nil client")
	}
	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("pipeline: load templates: %w", err)
	}

	o := &Orchestrator{
		client:          client,
		renderer:        renderer,
		logger:          logx.NewLogger("pipeline"),
		tracer:          noop.NewTracerProvider().Tracer(TracerName),
		maxIterations:   DefaultMaxIterations,
		maxTokens:       llm.DefaultMaxTokens,
		temperature:     llm.TemperatureDefault,
		codeTemperature: llm.TemperatureDeterministic,
		language:        config.DefaultTargetLanguage,
		framework:       config.DefaultTestFramework,
		module:          config.DefaultModuleName,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxIterations < 1 {
		return nil, fmt.Errorf("pipeline: max iterations must be >= 1, got %d", o.maxIterations)
	}
	return o, nil
}

// ConfigOptions translates the pipeline and model sections of cfg.
func ConfigOptions(cfg *config.Config) []Option {
	return []Option{
		WithMaxIterations(cfg.Pipeline.MaxIterations),
		WithTarget(cfg.Pipeline.TargetLanguage, cfg.Pipeline.TestFramework, cfg.Pipeline.ModuleName),
		WithMaxTokens(cfg.Model.MaxTokens),
		WithTemperatures(cfg.Model.Temperature, cfg.Model.CodeTemperature),
	}
}

// MaxIterations returns the configured attempt budget.
func (o *Orchestrator) MaxIterations() int { return o.maxIterations }

// Run executes one full pipeline for request. obs may be nil. A run ID is
// taken from ctx (logx.WithRunID) or generated.
//
// A nil error always comes with a result; Approved=false then means the
// attempt budget was exhausted. A non-nil error is a *RunError and no result
// is returned.
func (o *Orchestrator) Run(ctx context.Context, request string, obs Observer) (*RunResult, error) {
	if obs == nil {
		obs = nopObserver{}
	}
	runID := logx.RunIDFrom(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logx.WithRunID(ctx, runID)
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("specforge.run_id", runID),
		attribute.Int("specforge.max_iterations", o.maxIterations),
		attribute.Int("specforge.request_chars", len(request)),
	))
	defer span.End()

	started := time.Now()
	o.logger.Info("run %s started (max %d iterations)", runID, o.maxIterations)

	fail := func(stage Stage, iteration int, err error) (*RunResult, error) {
		o.transition(ctx, PhaseFailed, iteration)
		o.finish(ctx, obs, iteration, OutcomeFailed, fmt.Sprintf("error during execution: %v", err), 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stage))
		o.logger.Error("run %s aborted in %s stage: %v", runID, stage, err)
		return nil, &RunError{Stage: stage, Iteration: iteration, Err: err}
	}

	o.transition(ctx, PhaseSpecifying, 0)
	specification, err := o.Specify(ctx, request, obs)
	if err != nil {
		return fail(StageSpecification, 0, err)
	}

	o.transition(ctx, PhaseTesting, 0)
	tests, err := o.GenerateTests(ctx, specification, obs)
	if err != nil {
		return fail(StageTesting, 0, err)
	}

	result := &RunResult{RunID: runID, Specification: specification, Tests: tests}
	feedback := ""
	for i := 0; i < o.maxIterations; i++ {
		o.transition(ctx, PhaseDeveloping, i)
		implementation, err := o.Implement(ctx, specification, tests, i, feedback, obs)
		if err != nil {
			return fail(StageDevelopment, i+1, err)
		}

		o.transition(ctx, PhaseReviewing, i)
		verdict, err := o.Review(ctx, specification, tests, implementation, i, obs)
		if err != nil {
			return fail(StageReview, i+1, err)
		}

		result.Implementation = implementation
		result.Review = verdict.Feedback
		result.Approved = verdict.Approved
		result.Iterations = i + 1

		if verdict.Approved {
			o.finish(ctx, obs, i, OutcomeApproved, "code approved, run complete", 100)
			break
		}
		if i == o.maxIterations-1 {
			o.finish(ctx, obs, i, OutcomeLimitReached, fmt.Sprintf("attempt limit of %d reached, run finished", o.maxIterations), 100)
			break
		}
		feedback = verdict.Feedback
	}

	o.transition(ctx, PhaseDone, result.Iterations)
	span.SetAttributes(
		attribute.Bool("specforge.approved", result.Approved),
		attribute.Int("specforge.iterations", result.Iterations),
	)
	span.SetStatus(codes.Ok, "")
	o.logger.Info("run %s finished in %s: approved=%t iterations=%d",
		runID, time.Since(started).Round(time.Millisecond), result.Approved, result.Iterations)
	return result, nil
}

func (o *Orchestrator) transition(ctx context.Context, phase Phase, iteration int) {
	s := State{RunID: logx.RunIDFrom(ctx), Phase: phase, Iteration: iteration}
	logx.DebugState(ctx, "pipeline", "enter", s.String())
	if o.hook != nil {
		o.hook(s)
	}
}

func (o *Orchestrator) emit(ctx context.Context, obs Observer, stage Stage, iteration int, message string, progress int) {
	o.publish(ctx, obs, ProgressEvent{Stage: stage, Iteration: iteration, Message: message, Progress: progress})
}

func (o *Orchestrator) finish(ctx context.Context, obs Observer, iteration int, outcome Outcome, message string, progress int) {
	o.publish(ctx, obs, ProgressEvent{
		Stage: StageIdle, Iteration: iteration, Message: message, Progress: progress, Outcome: outcome,
	})
}

func (o *Orchestrator) publish(ctx context.Context, obs Observer, ev ProgressEvent) {
	ev.RunID = logx.RunIDFrom(ctx)
	ev.MaxIterations = o.maxIterations
	if ev.Stage == StageSpecification || ev.Stage == StageTesting {
		ev.MaxIterations = 1
	}
	ev.Time = time.Now().UTC()
	obs.OnProgress(ev)
}
