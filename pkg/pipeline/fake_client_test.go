package pipeline

import (
	"context"
	"sync"

	"specforge/pkg/llm"
	"specforge/pkg/logx"
)

// call is one recorded Complete invocation.
type call struct {
	stage string
	runID string
	req   llm.CompletionRequest
}

func (c call) user() string {
	for _, m := range c.req.Messages {
		if m.Role == llm.RoleUser {
			return m.Content
		}
	}
	return ""
}

// fakeClient answers per stage. reviews is consumed in order; when it runs
// out the last entry repeats.
type fakeClient struct {
	mu      sync.Mutex
	calls   []call
	spec    string
	tests   string
	impls   []string
	reviews []string
	failOn  string // stage name that returns failErr
	failErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		spec:    "# Postal code validator\n\nAcceptance criteria...",
		tests:   "```python\ndef test_valid():\n    assert feature_function('12345-678')\n```",
		impls:   []string{"```python\ndef feature_function(code):\n    return True\n```"},
		reviews: []string{"**DECISION:** APPROVED\n\n**JUSTIFICATION:** fine"},
	}
}

func pick(list []string, n int) string {
	if len(list) == 0 {
		return ""
	}
	if n >= len(list) {
		return list[len(list)-1]
	}
	return list[n]
}

func (f *fakeClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stage := logx.StageFrom(ctx)
	f.calls = append(f.calls, call{stage: stage, runID: logx.RunIDFrom(ctx), req: req})
	if stage == f.failOn {
		return llm.CompletionResponse{}, f.failErr
	}

	switch Stage(stage) {
	case StageSpecification:
		return llm.CompletionResponse{Content: f.spec}, nil
	case StageTesting:
		return llm.CompletionResponse{Content: f.tests}, nil
	case StageDevelopment:
		return llm.CompletionResponse{Content: pick(f.impls, f.countLocked(stage)-1)}, nil
	case StageReview:
		return llm.CompletionResponse{Content: pick(f.reviews, f.countLocked(stage)-1)}, nil
	}
	return llm.CompletionResponse{}, nil
}

func (f *fakeClient) GetModelName() string { return "fake-model" }

func (f *fakeClient) countLocked(stage string) int {
	n := 0
	for _, c := range f.calls {
		if c.stage == stage {
			n++
		}
	}
	return n
}

func (f *fakeClient) count(stage Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(string(stage))
}

func (f *fakeClient) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// recorder collects progress events.
type recorder struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recorder) OnProgress(ev ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressEvent(nil), r.events...)
}

func (r *recorder) last() ProgressEvent {
	evs := r.all()
	return evs[len(evs)-1]
}
