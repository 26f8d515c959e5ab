package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"specforge/pkg/config"
)

func TestSetupDisabled(t *testing.T) {
	tp, shutdown, err := Setup(config.TracingConfig{Enabled: false, Exporter: "stdout", ServiceName: "x"}, nil)
	require.NoError(t, err)
	_, span := tp.Tracer("t").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, shutdown, err := Setup(config.TracingConfig{Enabled: true, Exporter: "stdout", ServiceName: "specforge-test"}, &buf)
	require.NoError(t, err)

	_, span := tp.Tracer("t").Start(context.Background(), "stage.specification")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "stage.specification")
	assert.Contains(t, buf.String(), "specforge-test")
}

func TestSetupUnknownExporter(t *testing.T) {
	_, _, err := Setup(config.TracingConfig{Enabled: true, Exporter: "otlp", ServiceName: "x"}, nil)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}
