// Package telemetry initializes OpenTelemetry metrics and tracing.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// ServiceName identifies the instrumentation scope and OTel resource.
const ServiceName = "chart-recheck"

// Telemetry holds the OTel meter and tracer plus a shutdown function.
type Telemetry struct {
	Meter    metric.Meter
	Tracer   trace.Tracer
	Shutdown func(ctx context.Context) error
}

// Noop returns a Telemetry that records nothing.
func Noop() *Telemetry {
	return &Telemetry{
		Meter:    noopmetric.NewMeterProvider().Meter(ServiceName),
		Tracer:   nooptrace.NewTracerProvider().Tracer(ServiceName),
		Shutdown: func(context.Context) error { return nil },
	}
}

// New creates a Telemetry instance. When enabled is false the noop
// implementation is returned. When enabled, the exporters read
// OTEL_EXPORTER_OTLP_ENDPOINT and friends from the environment. A run is
// short-lived, so metrics are exported on Shutdown rather than on a timer.
func New(ctx context.Context, enabled bool, version string) (*Telemetry, error) {
	if !enabled {
		return Noop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	traceExp, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)

	metricExp, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)

	// Global providers are picked up by otelhttp on the GitHub client.
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Telemetry{
		Meter:  mp.Meter(ServiceName),
		Tracer: tp.Tracer(ServiceName),
		Shutdown: func(ctx context.Context) error {
			return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
		},
	}, nil
}
