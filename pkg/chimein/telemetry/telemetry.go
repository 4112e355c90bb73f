// Package telemetry sets up OpenTelemetry tracing for the bot. When tracing
// is disabled the global no-op provider stays in place and spans cost
// nothing.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config configures trace export.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP/HTTP collector host:port. Empty uses the
	// exporter default (localhost:4318) or OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `yaml:"endpoint"`

	Insecure bool `yaml:"insecure"`

	// SampleRate is the fraction of pipeline runs traced (0..1].
	SampleRate float64 `yaml:"sample_rate"`

	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns tracing disabled.
func DefaultConfig() Config {
	return Config{
		SampleRate:  1.0,
		ServiceName: "chimein",
	}
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Setup installs the global tracer provider. The returned func must be
// called on exit to flush pending spans.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "chimein"
	}

	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return noop, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return noop, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing enabled", "endpoint", cfg.Endpoint, "sample_rate", cfg.SampleRate)
	return provider.Shutdown, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}
