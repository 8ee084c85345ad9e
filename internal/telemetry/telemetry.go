// Package telemetry provides the OpenTelemetry instruments of the engine.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	namespace = "sherlock"

	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics are the engine instruments.
type Metrics struct {
	sessionsStarted  metric.Int64Counter
	sessionsFinished metric.Int64Counter
	sessionDuration  metric.Float64Histogram
	cloneDuration    metric.Float64Histogram
	cloneCacheHits   metric.Int64Counter
	activeProcesses  metric.Int64ObservableUpDownCounter
}

// NewMetrics creates the instruments on mp. active is observed as the
// number of live child processes.
func NewMetrics(mp metric.MeterProvider, active func() int) (*Metrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(Metrics)
	var err error

	if m.sessionsStarted, err = meter.Int64Counter(
		"sessions_started_total",
		metric.WithDescription("Total number of started sessions"),
	); err != nil {
		return nil, err
	}

	if m.sessionsFinished, err = meter.Int64Counter(
		"sessions_finished_total",
		metric.WithDescription("Total number of finished sessions by outcome"),
	); err != nil {
		return nil, err
	}

	if m.sessionDuration, err = meter.Float64Histogram(
		"session_duration_seconds",
		metric.WithDescription("Time from session start to its terminal event"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.cloneDuration, err = meter.Float64Histogram(
		"clone_duration_seconds",
		metric.WithDescription("Time taken to clone repositories"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.cloneCacheHits, err = meter.Int64Counter(
		"clone_cache_hits_total",
		metric.WithDescription("Total number of working directories served from the repository cache"),
	); err != nil {
		return nil, err
	}

	if m.activeProcesses, err = meter.Int64ObservableUpDownCounter(
		"active_processes",
		metric.WithDescription("Number of live child processes"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			if active != nil {
				o.Observe(int64(active()))
			}
			return nil
		}),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Noop returns instruments which record nothing.
func Noop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider(), nil)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) SessionStarted(ctx context.Context, kind string) {
	m.sessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) SessionFinished(ctx context.Context, kind, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.sessionsFinished.Add(ctx, 1, attrs)
	m.sessionDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) ObserveClone(ctx context.Context, outcome string, d time.Duration) {
	m.cloneDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) IncCloneCacheHit(ctx context.Context) {
	m.cloneCacheHits.Add(ctx, 1)
}

// NewResource creates the resource describing this service.
func NewResource(serviceName, version string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String(version),
	)
}

// NewMeterProvider creates an sdk meter provider read by reader.
func NewMeterProvider(res *resource.Resource, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
}

// NewTracerProvider creates an sdk tracer provider. Spans are not exported,
// they correlate log records of one session.
func NewTracerProvider(res *resource.Resource) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
}

// NoopTracer returns a tracer which records nothing.
func NoopTracer() trace.Tracer {
	return tracenoop.NewTracerProvider().Tracer(namespace)
}

// Tracer returns the engine tracer of tp.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	return tp.Tracer(namespace)
}
