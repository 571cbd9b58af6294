// Package tracing installs the OpenTelemetry tracer provider used by the
// renewal workflow.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/entrhq/renewal"

// Provider holds the installed tracer provider
type Provider struct {
	provider *sdktrace.TracerProvider
}

// Config selects where spans are written
type Config struct {
	ServiceName string
	Version     string
	Environment string
	// Writer receives one JSON document per span. Nil means stdout.
	Writer io.Writer
	// Pretty indents the JSON output
	Pretty bool
	// Sync exports spans as they end instead of batching them
	Sync bool
}

// New creates a tracer provider exporting to cfg.Writer and installs it as
// the global provider.
func New(cfg Config) (*Provider, error) {
	var opts []stdouttrace.Option
	if cfg.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
	}
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "renewal"
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	spanOpt := sdktrace.WithBatcher(exporter)
	if cfg.Sync {
		spanOpt = sdktrace.WithSyncer(exporter)
	}
	provider := sdktrace.NewTracerProvider(
		spanOpt,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider}, nil
}

// Tracer returns a tracer from this provider
func (p *Provider) Tracer() trace.Tracer {
	return p.provider.Tracer(tracerName)
}

// Shutdown flushes pending spans and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
