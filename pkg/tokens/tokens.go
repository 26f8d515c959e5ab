// Package tokens estimates token counts with a tiktoken codec.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"specforge/pkg/llm"
)

// Counter counts tokens for prompts and completions. Every supported provider
// is approximated with the GPT-4 encoding.
type Counter struct {
	codec tokenizer.Codec
}

//nolint:gochecknoglobals // codec construction is expensive, share one
var (
	defaultOnce    sync.Once
	defaultCounter *Counter
)

// Default returns the shared counter.
func Default() *Counter {
	defaultOnce.Do(func() {
		codec, err := tokenizer.ForModel(tokenizer.GPT4)
		if err != nil {
			codec = nil
		}
		defaultCounter = &Counter{codec: codec}
	})
	return defaultCounter
}

// Count returns the number of tokens in text. It falls back to four
// characters per token when no codec is available.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c == nil || c.codec == nil {
		return len(text) / 4
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// CountRequest counts the prompt tokens of all messages in req.
func (c *Counter) CountRequest(req llm.CompletionRequest) int {
	total := 0
	for i := range req.Messages {
		total += c.Count(req.Messages[i].Content)
	}
	return total
}

// Count counts text with the shared counter.
func Count(text string) int {
	return Default().Count(text)
}

// Usage returns reported usage when the provider supplied it, otherwise an estimate.
func Usage(req llm.CompletionRequest, resp llm.CompletionResponse) (prompt, completion int) {
	if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
		return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	c := Default()
	return c.CountRequest(req), c.Count(resp.Content)
}
