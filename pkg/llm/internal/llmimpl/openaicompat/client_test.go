package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
)

func serve(t *testing.T, status int, body string, seen *map[string]any) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func request() llm.CompletionRequest {
	return llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("write code"),
	})
}

func TestComplete(t *testing.T) {
	var seen map[string]any
	url := serve(t, http.StatusOK, `{
		"id": "c1", "object": "chat.completion", "model": "qwen2.5-coder",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "def f(): pass"}, "finish_reason": "length"}],
		"usage": {"prompt_tokens": 9, "completion_tokens": 4, "total_tokens": 13}
	}`, &seen)

	c := New("", url, "qwen2.5-coder")
	resp, err := c.Complete(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "def f(): pass", resp.Content)
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 9, CompletionTokens: 4}, resp.Usage)

	msgs, ok := seen["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
	assert.Equal(t, "qwen2.5-coder", seen["model"])
}

func TestCompleteNoChoices(t *testing.T) {
	url := serve(t, http.StatusOK, `{"id":"c2","object":"chat.completion","choices":[]}`, nil)
	_, err := New("", url, "m").Complete(context.Background(), request())
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse))
}

func TestCompleteServerError(t *testing.T) {
	url := serve(t, http.StatusServiceUnavailable, `{"error":{"message":"overloaded","type":"server_error"}}`, nil)
	_, err := New("", url, "m").Complete(context.Background(), request())
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTransient), "got %v", err)
}
