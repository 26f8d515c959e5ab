// Package telemetry sets up the OpenTelemetry tracer provider used by the
// LLM tracing middleware and the pipeline stage spans.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"specforge/pkg/config"
	"specforge/pkg/version"
)

// ErrUnknownExporter is returned for exporter names other than stdout and none.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

// Setup returns a tracer provider for cfg. When tracing is disabled or the
// exporter is "none" a no-op provider is returned. Spans from the stdout
// exporter go to w (stderr when nil). The provider is also installed globally.
func Setup(cfg config.TracingConfig, w io.Writer) (trace.TracerProvider, Shutdown, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}
	if cfg.Exporter != "stdout" {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
	if w == nil {
		w = os.Stderr
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version.Version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}
