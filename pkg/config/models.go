package config

import (
	"fmt"
	"strings"
)

// Provider names.
const (
	ProviderAnthropic    = "anthropic"
	ProviderOpenAI       = "openai"
	ProviderOpenAICompat = "openai-compat"
	ProviderGoogle       = "google"
	ProviderOllama       = "ollama"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey    = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey       = "OPENAI_API_KEY"
	EnvOpenAICompatAPIKey = "OPENAI_COMPAT_API_KEY"
	EnvGoogleAPIKey       = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost         = "OLLAMA_HOST"
)

// Model names used as defaults.
const (
	ModelClaudeSonnet45 = "claude-sonnet-4-5"
	ModelClaudeOpus45   = "claude-opus-4-5"
	ModelGPT5           = "gpt-5"
	ModelGPT4o          = "gpt-4o"
	ModelGemini25Flash  = "gemini-2.5-flash"
	DefaultModel        = ModelClaudeSonnet45
	DefaultOllamaHost   = "http://localhost:11434"
)

// ModelInfo is static pricing and limit data for a model.
type ModelInfo struct {
	Provider         string
	InputCPM         float64 // USD per million input tokens
	OutputCPM        float64 // USD per million output tokens
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels holds pricing for common models. Unknown models are still
// usable; their provider is inferred from ProviderPatterns and they cost 0.
//
//nolint:gochecknoglobals // static registry
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5":        {ProviderAnthropic, 3.0, 15.0, 200000, 16384},
	"claude-sonnet-4-20250514": {ProviderAnthropic, 3.0, 15.0, 200000, 8192},
	"claude-opus-4-1":          {ProviderAnthropic, 15.0, 75.0, 200000, 16384},
	"claude-opus-4-5":          {ProviderAnthropic, 5.0, 25.0, 200000, 16384},
	"claude-haiku-4-5":         {ProviderAnthropic, 1.0, 5.0, 200000, 8192},
	"gpt-4o":                   {ProviderOpenAI, 2.5, 10.0, 128000, 4096},
	"gpt-4.1":                  {ProviderOpenAI, 2.0, 8.0, 1047576, 32768},
	"gpt-5":                    {ProviderOpenAI, 1.25, 10.0, 400000, 128000},
	"o3":                       {ProviderOpenAI, 2.0, 8.0, 200000, 100000},
	"o4-mini":                  {ProviderOpenAI, 1.1, 4.4, 200000, 100000},
	"gemini-2.0-flash":         {ProviderGoogle, 0.10, 0.40, 1048576, 8192},
	"gemini-2.5-flash":         {ProviderGoogle, 0.30, 2.50, 1048576, 65536},
	"gemini-2.5-pro":           {ProviderGoogle, 1.25, 10.0, 1048576, 65536},
}

// ProviderPattern maps a model-name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns infer providers for models missing from KnownModels.
//
//nolint:gochecknoglobals // static inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"ollama:", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"phi", ProviderOllama},
}

// GetModelProvider returns the provider serving modelName.
func GetModelProvider(modelName string) (string, error) {
	if info, ok := KnownModels[modelName]; ok {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("cannot infer provider for model %q: set model.provider explicitly", modelName)
}

// GetModelInfo returns registry data, or an inferred entry and false.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, ok := KnownModels[modelName]; ok {
		return info, true
	}
	provider, _ := GetModelProvider(modelName)
	return ModelInfo{Provider: provider}, false
}

// CalculateCost prices a call; unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, ok := KnownModels[modelName]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*info.InputCPM + float64(completionTokens)/1_000_000*info.OutputCPM
}

// APIKeyEnv returns the environment variable holding a provider credential.
func APIKeyEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return EnvAnthropicAPIKey
	case ProviderOpenAI:
		return EnvOpenAIAPIKey
	case ProviderOpenAICompat:
		return EnvOpenAICompatAPIKey
	case ProviderGoogle:
		return EnvGoogleAPIKey
	case ProviderOllama:
		return EnvOllamaHost
	default:
		return ""
	}
}

// GetAPIKey resolves a provider credential from the secrets file, then the
// environment. Ollama needs none and yields its host URL instead.
// OpenAI-compatible servers may run without a key.
func GetAPIKey(provider string) (string, error) {
	switch provider {
	case ProviderOllama:
		if host, err := GetSecret(EnvOllamaHost); err == nil {
			return host, nil
		}
		return DefaultOllamaHost, nil
	case ProviderOpenAICompat:
		key, _ := GetSecret(EnvOpenAICompatAPIKey)
		return key, nil
	}
	env := APIKeyEnv(provider)
	if env == "" {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	return GetSecret(env)
}
