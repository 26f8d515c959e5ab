package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"specforge/pkg/config"
	"specforge/pkg/llm"
	"specforge/pkg/llm/factory"
	"specforge/pkg/logx"
	"specforge/pkg/metrics"
	"specforge/pkg/pipeline"
	"specforge/pkg/progress"
	"specforge/pkg/telemetry"
)

// EnvPassword unlocks the secrets file without a prompt.
const EnvPassword = "SPECFORGE_PASSWORD"

// clientFor builds the provider client; tests replace it.
//
//nolint:gochecknoglobals // test seam
var clientFor = func(f *factory.Factory) (llm.LLMClient, error) { return f.Client() }

// app is the wired process: config, client stack, orchestrator and observers.
type app struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	registry     *metrics.Registry
	usage        *metrics.RunUsage
	observer     pipeline.Observer
	closers      []func() error
	logger       *logx.Logger
}

type appOptions struct {
	projectDir    string
	maxIterations int  // 0 keeps config
	quiet         bool // no console progress
	stdout        io.Writer
}

func newApp(opts appOptions) (*app, error) {
	logger := logx.NewLogger("specforge")

	if err := unlockSecrets(opts.projectDir, logger); err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.projectDir)
	if err != nil {
		return nil, err //nolint:wrapcheck // config errors are descriptive
	}
	if opts.maxIterations > 0 {
		cfg.Pipeline.MaxIterations = opts.maxIterations
		if err := cfg.Validate(); err != nil {
			return nil, err //nolint:wrapcheck // config errors are descriptive
		}
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	tp, shutdown, err := telemetry.Setup(cfg.Tracing, os.Stderr)
	if err != nil {
		return nil, err //nolint:wrapcheck // already descriptive
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	a.usage = metrics.NewRunUsage()
	deps := factory.Deps{TracerProvider: tp, Logger: logx.NewLogger("llm"), Recorder: a.usage}
	if cfg.Metrics.Enabled {
		a.registry = metrics.NewRegistry()
		deps.Recorder = metrics.Tee(a.registry.Recorder(), a.usage)
	}

	f, err := factory.New(cfg, deps)
	if err != nil {
		return nil, err //nolint:wrapcheck // already descriptive
	}
	client, err := clientFor(f)
	if err != nil {
		return nil, err
	}

	popts := append(pipeline.ConfigOptions(cfg), pipeline.WithTracerProvider(tp))
	a.orchestrator, err = pipeline.New(client, popts...)
	if err != nil {
		return nil, err //nolint:wrapcheck // already descriptive
	}

	if err := a.buildObservers(opts); err != nil {
		return nil, err
	}
	logger.Info("model %s, max %d iterations, %s/%s",
		cfg.Model.Name, cfg.Pipeline.MaxIterations, cfg.Pipeline.TargetLanguage, cfg.Pipeline.TestFramework)

	ok = true
	return a, nil
}

func (a *app) buildObservers(opts appOptions) error {
	observers := []pipeline.Observer{progress.NewLog(nil)}
	if a.cfg.Progress.Console && !opts.quiet && opts.stdout != nil {
		observers = append(observers, progress.NewConsole(opts.stdout))
	}
	if a.registry != nil {
		observers = append(observers, progress.NewMetrics(a.registry.Registerer()))
	}
	if a.cfg.Progress.EventLogDir != "" {
		el, err := progress.NewEventLog(a.cfg.Progress.EventLogDir)
		if err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		a.closers = append(a.closers, el.Close)
		observers = append(observers, el)
	}
	if a.cfg.Progress.NATSURL != "" {
		n, err := progress.DialNATS(a.cfg.Progress.NATSURL, a.cfg.Progress.NATSSubject)
		if err != nil {
			return err //nolint:wrapcheck // already descriptive
		}
		a.closers = append(a.closers, n.Close)
		observers = append(observers, n)
	}
	a.observer = progress.Multi(observers...)
	return nil
}

// runContext applies the configured wall-clock bound for one run.
func (a *app) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Pipeline.RunTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Pipeline.RunTimeout)
	}
	return context.WithCancel(ctx)
}

// Close dumps metrics if configured and releases sinks in reverse order.
func (a *app) Close() {
	if a.registry != nil && a.cfg.Metrics.DumpPath != "" {
		if err := metrics.Dump(a.cfg.Metrics.DumpPath, a.registry.Gatherer()); err != nil {
			a.logger.Warn("metrics dump: %v", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown: %v", err)
		}
	}
	a.closers = nil
}

// runUsage returns the token usage of one finished run.
func (a *app) runUsage(runID string) *metrics.Summary {
	return a.usage.Take(runID)
}

// totalUsage returns usage across every run of the process, or nil when
// metrics are off.
func (a *app) totalUsage() *metrics.Summary {
	if a.registry == nil {
		return nil
	}
	s, err := metrics.Summarize(a.registry.Gatherer())
	if err != nil {
		a.logger.Warn("summarize metrics: %v", err)
		return nil
	}
	return s
}

// unlockSecrets loads the encrypted secrets file, if any, into memory. The
// password comes from SPECFORGE_PASSWORD or an interactive prompt; without
// either, credentials fall back to the environment.
func unlockSecrets(projectDir string, logger *logx.Logger) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}

	password := os.Getenv(EnvPassword)
	if password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			logger.Warn("secrets file present but %s unset and stdin is not a terminal; using environment credentials", EnvPassword)
			return nil
		}
		var err error
		if password, err = readPassword("Secrets password: "); err != nil {
			return err
		}
	}

	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if errors.Is(err, config.ErrWrongPassword) {
		return fmt.Errorf("cannot unlock %s: %w", config.SecretsPath(projectDir), err)
	}
	if err != nil {
		return logx.Wrap(err, "load secrets")
	}
	config.SetDecryptedSecrets(secrets)
	logger.Debug("loaded %d secrets", len(secrets))
	return nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	password := string(b)
	for i := range b {
		b[i] = 0
	}
	return password, nil
}
