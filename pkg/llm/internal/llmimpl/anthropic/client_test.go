package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
)

func TestAlternate(t *testing.T) {
	system, turns, err := alternate([]llm.CompletionMessage{
		llm.NewSystemMessage("be terse"),
		llm.NewUserMessage("a"),
		llm.NewUserMessage("b"),
		{Role: llm.RoleAssistant, Content: "c"},
		llm.NewUserMessage("d"),
	})
	require.NoError(t, err)
	assert.Equal(t, "be terse", system)
	require.Len(t, turns, 3)
	assert.Equal(t, "a\n\nb", turns[0].Content)
	assert.Equal(t, llm.RoleAssistant, turns[1].Role)
}

func TestAlternateRejectsBadShapes(t *testing.T) {
	_, _, err := alternate([]llm.CompletionMessage{llm.NewSystemMessage("only system")})
	assert.Error(t, err)

	_, _, err = alternate([]llm.CompletionMessage{{Role: llm.RoleAssistant, Content: "x"}, llm.NewUserMessage("y")})
	assert.Error(t, err)
}

func newServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteParsesTextAndUsage(t *testing.T) {
	var seen map[string]any
	srv := newServer(t, http.StatusOK, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-5",
		"content": [{"type": "text", "text": "# Spec"}, {"type": "text", "text": "\nbody"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 5}
	}`, &seen)

	client := New("test-key", "claude-sonnet-4-5", option.WithBaseURL(srv.URL))
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("hello"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "# Spec\nbody", resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 12, CompletionTokens: 5}, resp.Usage)
	assert.Equal(t, "claude-sonnet-4-5", seen["model"])
	assert.NotNil(t, seen["system"])
}

func TestCompleteClassifiesStatus(t *testing.T) {
	srv := newServer(t, http.StatusTooManyRequests,
		`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, nil)

	client := New("test-key", "claude-sonnet-4-5", option.WithBaseURL(srv.URL))
	_, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit), "got %v", err)
}
