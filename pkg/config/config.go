// Package config loads, validates and exposes specforge settings: the model to
// call, pipeline limits, client resilience, metrics, progress sinks and tracing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"specforge/pkg/llm"
	"specforge/pkg/llm/middleware/circuit"
	"specforge/pkg/llm/middleware/ratelimit"
	"specforge/pkg/llm/middleware/retry"
	"specforge/pkg/logx"
)

// Project layout.
const (
	ProjectConfigDir      = ".specforge"
	ProjectConfigFilename = "config.yaml"

	DefaultMaxIterations  = 3
	DefaultTargetLanguage = "python"
	DefaultTestFramework  = "pytest"
	DefaultModuleName     = "feature_module"
	DefaultNATSSubject    = "specforge.progress"
	DefaultRequestTimeout = 5 * time.Minute
	DefaultRunTimeout     = 30 * time.Minute
)

// Environment overrides applied after the config file.
const (
	EnvModel         = "SPECFORGE_MODEL"
	EnvProvider      = "SPECFORGE_PROVIDER"
	EnvBaseURL       = "SPECFORGE_BASE_URL"
	EnvMaxIterations = "SPECFORGE_MAX_ITERATIONS"
	EnvRunTimeout    = "SPECFORGE_RUN_TIMEOUT"
	EnvNATSURL       = "SPECFORGE_NATS_URL"
)

// Config is the full settings tree.
type Config struct {
	Model      ModelConfig      `yaml:"model"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Progress   ProgressConfig   `yaml:"progress"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ModelConfig selects the text-generation backend.
type ModelConfig struct {
	Name            string  `yaml:"name" validate:"required"`
	Provider        string  `yaml:"provider,omitempty" validate:"omitempty,oneof=anthropic openai openai-compat google ollama"`
	BaseURL         string  `yaml:"base_url,omitempty" validate:"omitempty,url"`
	MaxTokens       int     `yaml:"max_tokens" validate:"gte=256,lte=200000"`
	Temperature     float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	CodeTemperature float32 `yaml:"code_temperature" validate:"gte=0,lte=2"`
}

// PipelineConfig bounds the generation pipeline and names what it generates.
type PipelineConfig struct {
	MaxIterations  int           `yaml:"max_iterations" validate:"gte=1,lte=10"`
	TargetLanguage string        `yaml:"target_language" validate:"required"`
	TestFramework  string        `yaml:"test_framework" validate:"required"`
	ModuleName     string        `yaml:"module_name" validate:"required"`
	RunTimeout     time.Duration `yaml:"run_timeout" validate:"gte=0"`
}

// ResilienceConfig configures the client middleware chain.
type ResilienceConfig struct {
	Retry          retry.Config     `yaml:"retry"`
	CircuitBreaker circuit.Config   `yaml:"circuit_breaker"`
	RateLimit      ratelimit.Config `yaml:"rate_limit"`
	RequestTimeout time.Duration    `yaml:"request_timeout" validate:"gte=0"`
}

// MetricsConfig controls Prometheus collection.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DumpPath string `yaml:"dump_path,omitempty"` // text exposition written at exit
}

// ProgressConfig selects progress sinks beyond the log.
type ProgressConfig struct {
	Console     bool   `yaml:"console"`
	NATSURL     string `yaml:"nats_url,omitempty" validate:"omitempty,url"`
	NATSSubject string `yaml:"nats_subject" validate:"required_with=NATSURL"`
	EventLogDir string `yaml:"event_log_dir,omitempty"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter" validate:"oneof=stdout none"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Name:            DefaultModel,
			MaxTokens:       llm.DefaultMaxTokens,
			Temperature:     llm.TemperatureDefault,
			CodeTemperature: llm.TemperatureDeterministic,
		},
		Pipeline: PipelineConfig{
			MaxIterations:  DefaultMaxIterations,
			TargetLanguage: DefaultTargetLanguage,
			TestFramework:  DefaultTestFramework,
			ModuleName:     DefaultModuleName,
			RunTimeout:     DefaultRunTimeout,
		},
		Resilience: ResilienceConfig{
			Retry:          retry.DefaultConfig,
			CircuitBreaker: circuit.DefaultConfig,
			RateLimit:      ratelimit.Config{TokensPerMinute: 300000, MaxConcurrency: 4},
			RequestTimeout: DefaultRequestTimeout,
		},
		Metrics:  MetricsConfig{Enabled: true},
		Progress: ProgressConfig{Console: true, NATSSubject: DefaultNATSSubject},
		Tracing:  TracingConfig{Exporter: "stdout", ServiceName: "specforge"},
	}
}

// Path returns the config file location inside projectDir.
func Path(projectDir string) string {
	return filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)
}

// Load reads projectDir/.specforge/config.yaml over the defaults, applies
// environment overrides and validates the result. A missing file is not an error.
func Load(projectDir string) (*Config, error) {
	cfg := Default()
	path := Path(projectDir)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		logx.NewLogger("config").Debug("loaded %s", path)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to projectDir/.specforge/config.yaml.
func Save(projectDir string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(projectDir, ProjectConfigDir), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(Path(projectDir), data, 0o644); err != nil { //nolint:gosec // not secret
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvModel); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv(EnvProvider); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.Progress.NATSURL = v
	}
	if v := os.Getenv(EnvMaxIterations); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxIterations, err)
		}
		c.Pipeline.MaxIterations = n
	}
	if v := os.Getenv(EnvRunTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRunTimeout, err)
		}
		c.Pipeline.RunTimeout = d
	}
	return nil
}

//nolint:gochecknoglobals // validator caches struct metadata
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	provider, err := c.Provider()
	if err != nil {
		return err
	}
	if provider == ProviderOpenAICompat && c.Model.BaseURL == "" {
		return fmt.Errorf("invalid config: model.base_url is required for provider %s", ProviderOpenAICompat)
	}
	return nil
}

// Provider returns the configured provider, inferring it from the model name when unset.
func (c *Config) Provider() (string, error) {
	if c.Model.Provider != "" {
		return c.Model.Provider, nil
	}
	return GetModelProvider(c.Model.Name)
}
