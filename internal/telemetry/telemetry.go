// Package telemetry wraps OpenTelemetry tracing/metrics behind a minimal
// Telemetry/Span interface, so every network crossing — dispatcher
// attempts, tool dispatch, delegation, streaming reads, lifecycle
// toggles, supervisor pings — can be wrapped uniformly whether or not a
// collector is configured.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is the interface every component depends on.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is a single traced operation.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOp is what New returns when it is given an empty endpoint.
type NoOp struct{}

func (NoOp) StartSpan(ctx context.Context, _ string) (context.Context, Span) { return ctx, noopSpan{} }
func (NoOp) RecordMetric(string, float64, map[string]string)                 {}

type noopSpan struct{}

func (noopSpan) End()                                {}
func (noopSpan) SetAttribute(string, interface{})    {}
func (noopSpan) RecordError(error)                   {}

// OTEL wraps a real tracer/meter pair.
type OTEL struct {
	tracer trace.Tracer
	meter  metric.Meter
}

// New builds an OTEL-backed Telemetry. If endpoint is empty, it returns a
// NoOp instead so callers never have to branch on configuration.
func New(ctx context.Context, serviceName, endpoint string) (Telemetry, func(context.Context) error, error) {
	if endpoint == "" {
		return NoOp{}, func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)

	return &OTEL{
		tracer: tp.Tracer(serviceName),
		meter:  otel.GetMeterProvider().Meter(serviceName),
	}, tp.Shutdown, nil
}

func (o *OTEL) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (o *OTEL) RecordMetric(name string, value float64, labels map[string]string) {
	counter, err := o.meter.Float64Counter(name)
	if err != nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, ""))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
