// Package telemetry wires OpenTelemetry tracing and metrics into the
// engine's core.Telemetry contract, and mirrors span/metric activity onto
// the event bus so that listeners without OTel access (the CLI, test
// fixtures) can still observe `telemetry.span.*`, `telemetry.metric`, and
// `telemetry.trace` events.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/events"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetricgrpc "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otlptracegrpc "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelProvider implements core.Telemetry with OpenTelemetry, exporting
// traces and metrics via OTLP/gRPC (or stdout, for local development) and
// echoing span/metric activity onto the event bus.
type OTelProvider struct {
	tracer         trace.Tracer
	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider
	metrics        *MetricInstruments
	bus            *events.Bus
	logger         core.Logger

	shutdownOnce sync.Once
}

// NewOTelProvider builds a provider exporting to endpoint via OTLP/gRPC, or
// to stdout when useStdout is set (endpoint is then ignored).
func NewOTelProvider(serviceName, endpoint string, useStdout bool, bus *events.Bus, logger core.Logger) (*OTelProvider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	ctx := context.Background()
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String("1.0.0"),
	)

	var traceExporter sdktrace.SpanExporter
	var metricExporter sdkmetric.Exporter
	var err error

	if useStdout {
		traceExporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		metricExporter, err = stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
		}
	} else {
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		traceExporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter for endpoint %s: %w", endpoint, err)
		}
		metricExporter, err = otelmetricgrpc.New(ctx, otelmetricgrpc.WithEndpoint(endpoint), otelmetricgrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter for endpoint %s: %w", endpoint, err)
		}
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	metricProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(metricProvider)

	return &OTelProvider{
		tracer:         traceProvider.Tracer(serviceName),
		traceProvider:  traceProvider,
		metricProvider: metricProvider,
		metrics:        NewMetricInstruments(serviceName),
		bus:            bus,
		logger:         logger,
	}, nil
}

// StartSpan starts an OTel span and emits telemetry.span.start.
func (p *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	spanCtx, otelSpan := p.tracer.Start(ctx, name)

	span := &otelSpanWrapper{
		span:      otelSpan,
		name:      name,
		startedAt: time.Now(),
		provider:  p,
	}

	if p.bus != nil {
		p.bus.Emit("telemetry.span.start", map[string]interface{}{
			"name": name,
		}, nil)
	}

	return spanCtx, span
}

// RecordMetric records name=value as a float64 histogram measurement and
// emits telemetry.metric.
func (p *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	if err := p.metrics.RecordGauge(context.Background(), name, value); err != nil {
		p.logger.Warn("failed to record metric", map[string]interface{}{
			"metric": name, "error": err.Error(),
		})
	}

	if p.bus != nil {
		p.bus.Emit("telemetry.metric", map[string]interface{}{
			"name":   name,
			"value":  value,
			"labels": labels,
		}, nil)
	}
}

// EmitTrace emits a telemetry.trace event carrying a free-form message and
// details map, matching the domain's lightweight trace log.
func (p *OTelProvider) EmitTrace(message string, details map[string]interface{}) {
	if p.bus != nil {
		p.bus.Emit("telemetry.trace", map[string]interface{}{
			"message": message,
			"details": details,
		}, nil)
	}
}

// Shutdown flushes and closes the underlying exporters. Safe to call more
// than once.
func (p *OTelProvider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		if shutdownErr := p.traceProvider.Shutdown(ctx); shutdownErr != nil {
			err = shutdownErr
		}
		if shutdownErr := p.metricProvider.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	})
	return err
}

type otelSpanWrapper struct {
	span      trace.Span
	name      string
	startedAt time.Time
	provider  *OTelProvider
}

func (s *otelSpanWrapper) End() {
	s.span.End()
	if s.provider.bus != nil {
		s.provider.bus.Emit("telemetry.span.end", map[string]interface{}{
			"name":        s.name,
			"duration_ms": float64(time.Since(s.startedAt).Microseconds()) / 1000.0,
		}, nil)
	}
}

// EndWithResult ends the span like End, but attaches a truncated string
// summary of result to the telemetry.span.end event, matching the
// domain's span-result truncation contract.
func (s *otelSpanWrapper) EndWithResult(result interface{}) {
	s.span.End()
	if s.provider.bus != nil {
		s.provider.bus.Emit("telemetry.span.end", map[string]interface{}{
			"name":        s.name,
			"duration_ms": float64(time.Since(s.startedAt).Microseconds()) / 1000.0,
			"result":      truncateSummary(result),
		}, nil)
	}
}

func (s *otelSpanWrapper) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otelSpanWrapper) RecordError(err error) {
	s.span.RecordError(err)
}

// truncateSummary mirrors the domain's span-result truncation: a string
// summary of the span result capped at 500 characters.
func truncateSummary(result interface{}) string {
	s := fmt.Sprintf("%v", result)
	if len(s) > 500 {
		return s[:500]
	}
	return strings.TrimSpace(s)
}

func toAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
