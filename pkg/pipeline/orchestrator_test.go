package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"specforge/pkg/config"
	"specforge/pkg/llm/llmerrors"
	"specforge/pkg/logx"
)

const rejection = "**DECISION:** REJECTED\n\n**PROBLEMS FOUND:**\n1. missing hyphen handling"

func newOrchestrator(t *testing.T, client *fakeClient, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(client, opts...)
	require.NoError(t, err)
	return o
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(newFakeClient(), WithMaxIterations(0))
	assert.Error(t, err)

	o, err := New(newFakeClient())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, o.MaxIterations())
}

func TestApprovedOnFirstReview(t *testing.T) {
	client := newFakeClient()
	rec := &recorder{}
	o := newOrchestrator(t, client)

	result, err := o.Run(context.Background(), "Validate a postal code", rec)
	require.NoError(t, err)

	assert.True(t, result.Approved)
	assert.Equal(t, 1, result.Iterations)
	assert.Len(t, client.recorded(), 4)
	assert.Equal(t, 1, client.count(StageDevelopment))
	assert.Equal(t, 1, client.count(StageReview))

	assert.Equal(t, client.spec, result.Specification)
	assert.Equal(t, "def test_valid():\n    assert feature_function('12345-678')", result.Tests)
	assert.Equal(t, "def feature_function(code):\n    return True", result.Implementation)
	assert.Equal(t, client.reviews[0], result.Review)
	assert.NotEmpty(t, result.RunID)

	last := rec.last()
	assert.Equal(t, StageIdle, last.Stage)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, 0, last.Iteration)
	assert.Contains(t, last.Message, "approved")
	assert.Equal(t, OutcomeApproved, last.Outcome)
}

func TestRejectedEveryTime(t *testing.T) {
	client := newFakeClient()
	client.reviews = []string{rejection}
	rec := &recorder{}
	o := newOrchestrator(t, client)

	result, err := o.Run(context.Background(), "Validate a postal code", rec)
	require.NoError(t, err)

	assert.False(t, result.Approved)
	assert.Equal(t, 3, result.Iterations)
	assert.Len(t, client.recorded(), 8)
	assert.Equal(t, rejection, result.Review)

	last := rec.last()
	assert.Equal(t, StageIdle, last.Stage)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, 2, last.Iteration)
	assert.Contains(t, last.Message, "attempt limit of 3")
	assert.Equal(t, OutcomeLimitReached, last.Outcome)
}

func TestAbortOnTestGenerationFailure(t *testing.T) {
	client := newFakeClient()
	client.failOn = string(StageTesting)
	client.failErr = llmerrors.NewError(llmerrors.ErrorTypeAuth, "bad key")
	rec := &recorder{}
	o := newOrchestrator(t, client)

	result, err := o.Run(context.Background(), "Validate a postal code", rec)
	require.Error(t, err)
	assert.Nil(t, result)

	runErr, ok := AsRunError(err)
	require.True(t, ok)
	assert.Equal(t, StageTesting, runErr.Stage)
	assert.Equal(t, 0, runErr.Iteration)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeAuth))

	assert.Equal(t, 0, client.count(StageDevelopment))
	assert.Equal(t, 0, client.count(StageReview))
	assert.Len(t, client.recorded(), 2)

	last := rec.last()
	assert.Equal(t, StageIdle, last.Stage)
	assert.Equal(t, 0, last.Progress)
	assert.Contains(t, last.Message, "bad key")
	assert.Equal(t, OutcomeFailed, last.Outcome)
}

func TestAbortInsideLoopReportsIterationReached(t *testing.T) {
	client := newFakeClient()
	client.reviews = []string{rejection}
	o := newOrchestrator(t, client)

	// Fail the second review by swapping the client behaviour mid-run.
	boom := errors.New("connection reset")
	hook := func(s State) {
		if s.Phase == PhaseReviewing && s.Iteration == 1 {
			client.mu.Lock()
			client.failOn, client.failErr = string(StageReview), boom
			client.mu.Unlock()
		}
	}
	o.hook = hook

	_, err := o.Run(context.Background(), "Validate a postal code", nil)
	runErr, ok := AsRunError(err)
	require.True(t, ok)
	assert.Equal(t, StageReview, runErr.Stage)
	assert.Equal(t, 2, runErr.Iteration)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, client.count(StageDevelopment))
}

func TestApprovalShortCircuitsOnSecondAttempt(t *testing.T) {
	client := newFakeClient()
	client.reviews = []string{rejection, "DECISION: APPROVED"}
	o := newOrchestrator(t, client)

	result, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, 2, result.Iterations)
	assert.Len(t, client.recorded(), 6)
}

func TestFeedbackThreading(t *testing.T) {
	client := newFakeClient()
	client.reviews = []string{"first: " + rejection, "second: " + rejection, rejection}
	o := newOrchestrator(t, client)

	_, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.NoError(t, err)

	var impls []call
	for _, c := range client.recorded() {
		if c.stage == string(StageDevelopment) {
			impls = append(impls, c)
		}
	}
	require.Len(t, impls, 3)
	assert.NotContains(t, impls[0].user(), "PREVIOUS REVIEW FEEDBACK")
	assert.Contains(t, impls[1].user(), "PREVIOUS REVIEW FEEDBACK:\nfirst: "+rejection)
	assert.Contains(t, impls[2].user(), "PREVIOUS REVIEW FEEDBACK:\nsecond: "+rejection)
	assert.NotContains(t, impls[2].user(), "first: ")
}

func TestStagesReceivePreviousOutputs(t *testing.T) {
	client := newFakeClient()
	o := newOrchestrator(t, client)

	_, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.NoError(t, err)

	calls := client.recorded()
	require.Len(t, calls, 4)
	assert.Contains(t, calls[0].user(), "Validate a postal code")
	assert.Contains(t, calls[1].user(), client.spec)
	assert.Contains(t, calls[2].user(), client.spec)
	assert.Contains(t, calls[2].user(), "assert feature_function('12345-678')")
	assert.Contains(t, calls[3].user(), "return True")
	for _, c := range calls {
		require.Len(t, c.req.Messages, 2)
		assert.Equal(t, "system", string(c.req.Messages[0].Role))
	}
}

func TestEventSequence(t *testing.T) {
	client := newFakeClient()
	client.reviews = []string{rejection, "**APPROVED**"}
	rec := &recorder{}
	o := newOrchestrator(t, client)

	_, err := o.Run(logx.WithRunID(context.Background(), "run-42"), "Validate a postal code", rec)
	require.NoError(t, err)

	type step struct {
		stage     Stage
		iteration int
		max       int
		progress  int
	}
	want := []step{
		{StageSpecification, 0, 1, 10}, {StageSpecification, 0, 1, 25},
		{StageTesting, 0, 1, 30}, {StageTesting, 0, 1, 50},
		{StageDevelopment, 0, 3, 55}, {StageDevelopment, 0, 3, 60},
		{StageReview, 0, 3, 75}, {StageReview, 0, 3, 80},
		{StageDevelopment, 1, 3, 65}, {StageDevelopment, 1, 3, 70},
		{StageReview, 1, 3, 80}, {StageReview, 1, 3, 85},
		{StageIdle, 1, 3, 100},
	}
	events := rec.all()
	require.Len(t, events, len(want))
	for i, w := range want {
		got := events[i]
		assert.Equal(t, w, step{got.Stage, got.Iteration, got.MaxIterations, got.Progress}, "event %d", i)
		assert.Equal(t, "run-42", got.RunID)
	}
	assert.Contains(t, events[4].Message, "attempt 1/3")
	assert.Contains(t, events[9].Message, "attempt 2/3")
	assert.Contains(t, events[7].Message, "rejected")
	assert.Contains(t, events[11].Message, "approved")
}

func TestStateHookRecordsTransitions(t *testing.T) {
	client := newFakeClient()
	client.reviews = []string{rejection}
	var states []string
	o := newOrchestrator(t, client, WithMaxIterations(2), WithStateHook(func(s State) {
		states = append(states, s.String())
	}))

	_, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"SPECIFYING", "TESTING",
		"DEVELOPING(0)", "REVIEWING(0)",
		"DEVELOPING(1)", "REVIEWING(1)",
		"DONE",
	}, states)
}

func TestStateHookRecordsFailure(t *testing.T) {
	client := newFakeClient()
	client.failOn, client.failErr = string(StageSpecification), errors.New("quota")
	var states []Phase
	o := newOrchestrator(t, client, WithStateHook(func(s State) { states = append(states, s.Phase) }))

	_, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.Error(t, err)
	assert.Equal(t, []Phase{PhaseSpecifying, PhaseFailed}, states)
	assert.Len(t, client.recorded(), 1)
}

func TestMaxIterationsOption(t *testing.T) {
	client := newFakeClient()
	client.reviews = []string{rejection}
	o := newOrchestrator(t, client, WithMaxIterations(1))

	result, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Iterations)
	assert.False(t, result.Approved)
	assert.Len(t, client.recorded(), 4)
}

func TestUnrecognizedVerdictIsRejected(t *testing.T) {
	client := newFakeClient()
	client.reviews = []string{"Looks approved to me, aprovado!"}
	o := newOrchestrator(t, client, WithMaxIterations(2))

	result, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, 2, result.Iterations)
}

func TestEmptyCompletionsAreAccepted(t *testing.T) {
	client := newFakeClient()
	client.spec, client.tests, client.impls, client.reviews = "", "", []string{""}, []string{""}
	o := newOrchestrator(t, client)

	result, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Specification)
	assert.Empty(t, result.Implementation)
	assert.False(t, result.Approved)
	assert.Equal(t, 3, result.Iterations)
}

func TestCanceledContextAborts(t *testing.T) {
	client := newFakeClient()
	client.failOn, client.failErr = string(StageSpecification), context.Canceled
	o := newOrchestrator(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Run(ctx, "Validate a postal code", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.MaxIterations = 5
	cfg.Pipeline.TargetLanguage = "Go"
	cfg.Pipeline.TestFramework = "testing"
	cfg.Pipeline.ModuleName = "postal"
	cfg.Model.MaxTokens = 4096
	cfg.Model.Temperature = 0.7
	cfg.Model.CodeTemperature = 0.1

	client := newFakeClient()
	o := newOrchestrator(t, client, ConfigOptions(cfg)...)
	assert.Equal(t, 5, o.MaxIterations())

	_, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.NoError(t, err)

	calls := client.recorded()
	assert.Equal(t, 4096, calls[0].req.MaxTokens)
	assert.InDelta(t, 0.7, calls[0].req.Temperature, 1e-6)
	assert.InDelta(t, 0.1, calls[1].req.Temperature, 1e-6)
	assert.Contains(t, calls[1].user(), "Go test file using testing")
	assert.Contains(t, calls[1].user(), `"postal"`)
	assert.Contains(t, calls[2].user(), "```go\n")
}

func TestConcurrentRunsShareNothing(t *testing.T) {
	client := newFakeClient()
	o := newOrchestrator(t, client)

	const runs = 8
	var wg sync.WaitGroup
	results := make([]*RunResult, runs)
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := logx.WithRunID(context.Background(), fmt.Sprintf("run-%d", i))
			results[i], errs[i] = o.Run(ctx, "Validate a postal code", nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("run-%d", i), results[i].RunID)
		assert.True(t, results[i].Approved)
	}
	assert.Len(t, client.recorded(), 4*runs)

	perRun := map[string][]string{}
	for _, c := range client.recorded() {
		perRun[c.runID] = append(perRun[c.runID], c.stage)
	}
	for id, stages := range perRun {
		assert.Equal(t, "specification,testing,development,review", strings.Join(stages, ","), id)
	}
}

func TestRunEmitsSpans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	o := newOrchestrator(t, newFakeClient(), WithTracerProvider(tp))

	_, err := o.Run(context.Background(), "Validate a postal code", nil)
	require.NoError(t, err)

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{
		"pipeline.specification", "pipeline.testing", "pipeline.development", "pipeline.review", "pipeline.run",
	}, names)
}

func TestObserverFunc(t *testing.T) {
	var n int
	o := newOrchestrator(t, newFakeClient())
	_, err := o.Run(context.Background(), "Validate a postal code", ObserverFunc(func(ProgressEvent) { n++ }))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}
