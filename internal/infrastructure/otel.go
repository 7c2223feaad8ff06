package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTelConfig controls tracer initialization.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	SamplingRatio  float64
}

// DefaultOTelConfig returns tracing defaults for the entitlement server.
func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    "poscore-entitlement",
		ServiceVersion: "dev",
		Enabled:        true,
		SamplingRatio:  1.0,
	}
}

// OTelProviders holds the initialized tracer provider for shutdown.
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
}

// InitializeOTel installs the global tracer provider. With tracing
// disabled the no-op global provider stays in place and spans cost
// nothing.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}
	if !cfg.Enabled {
		return &OTelProviders{}, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRatio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("opentelemetry tracing initialized",
		slog.String("service", cfg.ServiceName),
		slog.Float64("sampling_ratio", cfg.SamplingRatio),
	)
	return &OTelProviders{TracerProvider: tp}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	if p.TracerProvider == nil {
		return nil
	}
	return p.TracerProvider.Shutdown(ctx)
}
