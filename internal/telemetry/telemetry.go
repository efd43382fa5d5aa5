// Package telemetry wires OpenTelemetry tracing. Tracing is opt-in; when it
// is disabled every helper falls back to a no-op tracer.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/livinlefevreloca/prewarm/internal/loader"
)

const instrumentationName = "github.com/livinlefevreloca/prewarm"

// Config holds tracing settings
type Config struct {
	Enabled     bool    `toml:"enabled" env:"ENABLED"`
	Endpoint    string  `toml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `toml:"service_name" env:"SERVICE_NAME"`
	SampleRate  float64 `toml:"sample_rate" env:"SAMPLE_RATE"`
}

// DefaultConfig returns tracing disabled
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "prewarm",
		SampleRate:  1.0,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint must be specified when enabled")
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("telemetry sample_rate must be between 0 and 1, got %v", c.SampleRate)
	}
	return nil
}

var (
	mu     sync.RWMutex
	tracer trace.Tracer = noop.NewTracerProvider().Tracer(instrumentationName)
)

// Init installs an OTLP/HTTP exporter and the global tracer provider.
// Returns a shutdown function that flushes pending spans.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	noopShutdown := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	SetTracerProvider(tp)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	}, nil
}

// SetTracerProvider replaces the tracer used by this package
func SetTracerProvider(tp trace.TracerProvider) {
	mu.Lock()
	defer mu.Unlock()
	tracer = tp.Tracer(instrumentationName)
}

// Tracer returns the package tracer
func Tracer() trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return tracer
}

// StartSpan starts a span; the caller must call span.End()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RecordError records err on the current span and marks it failed
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Interceptor returns a loader interceptor wrapping every load in a span
func Interceptor() loader.Interceptor {
	return func(id string, kind loader.Kind, next loader.Loader) loader.Loader {
		return func(ctx context.Context) (loader.Result, error) {
			ctx, span := StartSpan(ctx, "loader.load",
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("prewarm.trigger_id", id),
					attribute.String("prewarm.kind", string(kind)),
				))
			defer span.End()

			res, err := next(ctx)
			span.SetAttributes(
				attribute.Int64("prewarm.bytes", res.Bytes),
				attribute.String("prewarm.status", res.Status),
			)
			RecordError(ctx, err)
			return res, err
		}
	}
}
