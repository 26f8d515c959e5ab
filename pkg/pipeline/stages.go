package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"specforge/pkg/llm"
	"specforge/pkg/logx"
	"specforge/pkg/templates"
)

// Specify writes the functional specification for request and returns the
// raw completion.
func (o *Orchestrator) Specify(ctx context.Context, request string, obs Observer) (string, error) {
	obs = orNop(obs)
	o.emit(ctx, obs, StageSpecification, 0, "writing detailed functional specification", 10)

	raw, err := o.generate(ctx, StageSpecification, 0, templates.SpecificationTemplate,
		&templates.TemplateData{Request: request}, o.temperature)
	if err != nil {
		return "", err
	}

	o.emit(ctx, obs, StageSpecification, 0, "specification created", 25)
	return raw, nil
}

// GenerateTests derives a red-phase test suite from specification.
func (o *Orchestrator) GenerateTests(ctx context.Context, specification string, obs Observer) (string, error) {
	obs = orNop(obs)
	o.emit(ctx, obs, StageTesting, 0, "generating automated tests", 30)

	raw, err := o.generate(ctx, StageTesting, 0, templates.TestingTemplate,
		o.data(&templates.TemplateData{Specification: specification}), o.codeTemperature)
	if err != nil {
		return "", err
	}

	o.emit(ctx, obs, StageTesting, 0, "tests created", 50)
	return ExtractCodeBlock(raw), nil
}

// Implement produces attempt iteration (0-based). A non-empty feedback is the
// previous review, which the prompt asks the generator to address.
func (o *Orchestrator) Implement(ctx context.Context, specification, tests string, iteration int, feedback string, obs Observer) (string, error) {
	obs = orNop(obs)
	o.emit(ctx, obs, StageDevelopment, iteration,
		fmt.Sprintf("implementing code (attempt %d/%d)", iteration+1, o.maxIterations), percent(55, 10, iteration))

	raw, err := o.generate(ctx, StageDevelopment, iteration, templates.ImplementationTemplate,
		o.data(&templates.TemplateData{
			Specification: specification,
			Tests:         tests,
			Feedback:      feedback,
			Attempt:       iteration + 1,
			MaxAttempts:   o.maxIterations,
		}), o.codeTemperature)
	if err != nil {
		return "", err
	}

	o.emit(ctx, obs, StageDevelopment, iteration,
		fmt.Sprintf("code implemented (attempt %d/%d)", iteration+1, o.maxIterations), percent(60, 10, iteration))
	return ExtractCodeBlock(raw), nil
}

// Review asks for a verdict on implementation.
func (o *Orchestrator) Review(ctx context.Context, specification, tests, implementation string, iteration int, obs Observer) (Verdict, error) {
	obs = orNop(obs)
	o.emit(ctx, obs, StageReview, iteration, "reviewing code", percent(75, 5, iteration))

	raw, err := o.generate(ctx, StageReview, iteration, templates.ReviewTemplate,
		o.data(&templates.TemplateData{
			Specification:  specification,
			Tests:          tests,
			Implementation: implementation,
		}), o.temperature)
	if err != nil {
		return Verdict{}, err
	}

	verdict := ParseVerdict(raw)
	message := "code rejected, feedback generated"
	switch verdict.Decision {
	case DecisionApproved:
		message = "code approved"
	case DecisionUnrecognized:
		o.logger.Warn("review %d of run %s has no decision marker; treating as rejected",
			iteration+1, logx.RunIDFrom(ctx))
	}
	logx.Debug(ctx, "pipeline", "review %d verdict: %s", iteration+1, verdict.Decision)

	o.emit(ctx, obs, StageReview, iteration, message, percent(80, 5, iteration))
	return verdict, nil
}

// generate renders one stage prompt and issues exactly one Complete call.
func (o *Orchestrator) generate(ctx context.Context, stage Stage, iteration int, tmpl templates.StageTemplate, data *templates.TemplateData, temperature float32) (string, error) {
	prompt, err := o.renderer.Render(tmpl, data)
	if err != nil {
		return "", err //nolint:wrapcheck // renderer errors name the template
	}

	ctx = logx.WithStage(ctx, string(stage))
	ctx, span := o.tracer.Start(ctx, "pipeline."+string(stage), trace.WithAttributes(
		attribute.Int("specforge.iteration", iteration),
	))
	defer span.End()

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(prompt.System),
		llm.NewUserMessage(prompt.User),
	})
	req.MaxTokens = o.maxTokens
	req.Temperature = temperature

	resp, err := o.client.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("%s completion: %w", stage, err)
	}
	if resp.Content == "" {
		o.logger.Warn("empty completion for %s stage of run %s; continuing with empty text",
			stage, logx.RunIDFrom(ctx))
	}
	span.SetAttributes(attribute.Int("specforge.completion_chars", len(resp.Content)))
	return resp.Content, nil
}

func (o *Orchestrator) data(d *templates.TemplateData) *templates.TemplateData {
	d.Language = o.language
	d.Framework = o.framework
	d.Module = o.module
	d.Fence = templates.FenceFor(o.language)
	return d
}

// percent computes base+step*i, held below 100 so only terminal events reach it.
func percent(base, step, i int) int {
	if p := base + step*i; p < 100 {
		return p
	}
	return 99
}

func orNop(obs Observer) Observer {
	if obs == nil {
		return nopObserver{}
	}
	return obs
}
