// Package openaicompat implements llm.LLMClient for servers speaking the
// OpenAI Chat Completions protocol (vLLM, LM Studio, llama.cpp, gateways).
package openaicompat

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
)

const providerName = "openai-compat"

// Client sends chat completions to BaseURL.
type Client struct {
	client *openai.Client
	model  string
}

// New creates a client for an OpenAI-compatible endpoint. apiKey may be empty.
func New(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{client: openai.NewClientWithConfig(cfg), model: model}
}

// Complete sends one chat completion.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(in.Messages))
	for i := range in.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(in.Messages[i].Role),
			Content: in.Messages[i].Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		return llm.CompletionResponse{}, classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no choices in chat completion")
	}

	choice := resp.Choices[0]
	return llm.CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: stopReason(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// GetModelName returns the served model name.
func (c *Client) GetModelName() string {
	return c.model
}

func stopReason(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonStop, "":
		return "end_turn"
	case openai.FinishReasonLength:
		return "max_tokens"
	default:
		return string(reason)
	}
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return llmerrors.FromStatus(providerName, apiErr.HTTPStatusCode, err, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llmerrors.FromStatus(providerName, reqErr.HTTPStatusCode, err, string(reqErr.Body))
	}
	return llmerrors.Classify(providerName, err)
}
