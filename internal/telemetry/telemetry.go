// Package telemetry installs the global OpenTelemetry tracer provider used by
// the orchestrator spans.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Options configures tracing.
type Options struct {
	ServiceName string
	Version     string
	Exporter    string
	// SampleRatio outside (0,1] means sample everything.
	SampleRatio float64
	// Output receives stdout exporter spans; nil means os.Stdout.
	Output io.Writer
}

type noopSpanExporter struct{}

func (noopSpanExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (noopSpanExporter) Shutdown(context.Context) error { return nil }

// Init builds a tracer provider, installs it globally and returns its shutdown
// function.
func Init(opts Options) (func(context.Context) error, error) {
	if opts.ServiceName == "" {
		opts.ServiceName = "meshchat"
	}
	if opts.SampleRatio <= 0 || opts.SampleRatio > 1 {
		opts.SampleRatio = 1
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)

	switch opts.Exporter {
	case ExporterStdout:
		stdoutOpts := []stdouttrace.Option{}
		if opts.Output != nil {
			stdoutOpts = append(stdoutOpts, stdouttrace.WithWriter(opts.Output))
		}
		exporter, err = stdouttrace.New(stdoutOpts...)
	case ExporterNone, "":
		exporter = noopSpanExporter{}
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", opts.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("build exporter: %w", err)
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", opts.ServiceName)}
	if opts.Version != "" {
		attrs = append(attrs, attribute.String("service.version", opts.Version))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attrs...)),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
