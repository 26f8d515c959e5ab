// Package openaiofficial implements llm.LLMClient on the OpenAI Responses API.
package openaiofficial

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
)

const providerName = "openai"

// Client talks to OpenAI models through the Responses API.
type Client struct {
	client       openai.Client
	model        string
	maxOutputCap int
}

// New creates a client. maxOutputCap clamps MaxTokens when > 0.
func New(apiKey, model string, maxOutputCap int, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &Client{
		client:       openai.NewClient(all...),
		model:        model,
		maxOutputCap: maxOutputCap,
	}
}

// Complete sends one Responses request. System messages become instructions;
// the remaining turns are flattened into a single input text.
func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	instructions, input := flatten(in.Messages)
	if input == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "no user input to send")
	}

	maxTokens := in.MaxTokens
	if c.maxOutputCap > 0 && maxTokens > c.maxOutputCap {
		maxTokens = c.maxOutputCap
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input)},
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, classify(ctx, err)
	}
	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "nil response from OpenAI")
	}

	stop := "end_turn"
	if string(resp.Status) == "incomplete" {
		stop = "max_tokens"
	}
	return llm.CompletionResponse{
		Content:    resp.OutputText(),
		StopReason: stop,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName returns the OpenAI model name.
func (c *Client) GetModelName() string {
	return c.model
}

func flatten(messages []llm.CompletionMessage) (instructions, input string) {
	instructions, rest := llm.SplitSystem(messages)
	var b strings.Builder
	for i := range rest {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if rest[i].Role == llm.RoleAssistant {
			fmt.Fprintf(&b, "Assistant: %s", rest[i].Content)
			continue
		}
		b.WriteString(rest[i].Content)
	}
	return instructions, b.String()
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("openai request: %w", err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llmerrors.FromStatus(providerName, apiErr.StatusCode, err, err.Error())
	}
	return llmerrors.Classify(providerName, err)
}
