// Package google implements llm.LLMClient on the Gemini API.
package google

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"specforge/pkg/llm"
	"specforge/pkg/llm/llmerrors"
)

const providerName = "google"

// Client talks to Gemini models. The SDK client is created lazily on first use
// because construction needs a context.
type Client struct {
	apiKey  string
	model   string
	once    sync.Once
	client  *genai.Client
	initErr error
}

// New creates a Gemini client.
func New(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

func (g *Client) sdk(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.client, g.initErr
}

// Complete sends one GenerateContent request.
func (g *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	contents, system, err := convertMessages(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion")
	}

	client, err := g.sdk(ctx)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "create Gemini client")
	}

	temperature := in.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(in.MaxTokens), //nolint:gosec // bounded by config validation
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return llm.CompletionResponse{}, fmt.Errorf("gemini request: %w", err)
		}
		return llm.CompletionResponse{}, llmerrors.Classify(providerName, err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no candidates in Gemini response")
	}

	resp := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: stopReason(result.Candidates[0].FinishReason),
	}
	if result.UsageMetadata != nil {
		resp.Usage = llm.Usage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	return resp, nil
}

// GetModelName returns the Gemini model name.
func (g *Client) GetModelName() string {
	return g.model
}

func convertMessages(messages []llm.CompletionMessage) ([]*genai.Content, string, error) {
	system, rest := llm.SplitSystem(messages)
	if len(rest) == 0 {
		return nil, "", fmt.Errorf("at least one non-system message is required")
	}
	contents := make([]*genai.Content, 0, len(rest))
	for i := range rest {
		var role genai.Role
		switch rest[i].Role {
		case llm.RoleUser:
			role = genai.RoleUser
		case llm.RoleAssistant:
			role = genai.RoleModel
		default:
			return nil, "", fmt.Errorf("unsupported role %s", rest[i].Role)
		}
		contents = append(contents, genai.NewContentFromText(rest[i].Content, role))
	}
	return contents, system, nil
}

func stopReason(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonStop, "":
		return "end_turn"
	case genai.FinishReasonMaxTokens:
		return "max_tokens"
	default:
		return string(reason)
	}
}
