// Package ollama implements llm.LLMClient against a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
)

const providerName = "ollama"

// Client talks to an Ollama host.
type Client struct {
	client *api.Client
	model  string
}

// New creates a client for hostURL. An "ollama:" prefix on the model name is stripped.
func New(hostURL, model string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(hostURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q", hostURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		client: api.NewClient(u, httpClient),
		model:  strings.TrimPrefix(model, "ollama:"),
	}, nil
}

// Complete runs one non-streaming chat request.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}
	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, api.Message{Role: string(in.Messages[i].Role), Content: in.Messages[i].Content})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var final api.ChatResponse
	var text strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		final = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classify(ctx, err)
	}

	return llm.CompletionResponse{
		Content:    text.String(),
		StopReason: stopReason(&final),
		Usage: llm.Usage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
		},
	}, nil
}

// GetModelName returns the local model name.
func (o *Client) GetModelName() string {
	return o.model
}

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("ollama request: %w", err)
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "model not found, run `ollama pull` first")
		}
		return llmerrors.FromStatus(providerName, statusErr.StatusCode, err, statusErr.ErrorMessage)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "ollama server not reachable")
	}
	return llmerrors.Classify(providerName, err)
}
