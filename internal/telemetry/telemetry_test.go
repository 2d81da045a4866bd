package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_StdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer

	shutdown, err := Init(Options{Exporter: ExporterStdout, Output: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "orchestrator.execute")
	span.End()

	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "orchestrator.execute")
	assert.Contains(t, buf.String(), "meshchat")
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(Options{Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestInit_None(t *testing.T) {
	shutdown, err := Init(Options{Exporter: ExporterNone})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
