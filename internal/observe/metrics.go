// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, distributed tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/evanote/evanote"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// GenerationDuration tracks end-to-end note generation latency, retries
	// included.
	GenerationDuration metric.Float64Histogram

	// LLMDuration tracks single LLM completion latency.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// Generations counts generation pipeline runs. Use with attributes:
	//   attribute.String("status", ...), attribute.String("language", ...)
	Generations metric.Int64Counter

	// Tokens counts LLM tokens. Use with attribute:
	//   attribute.String("direction", "in"|"out")
	Tokens metric.Int64Counter

	// ProviderErrors counts LLM backend errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveGenerations tracks the number of in-flight generation pipelines.
	ActiveGenerations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Generation
// latency is dominated by the LLM round trip plus up to two retry pauses, so
// buckets reach further out than typical HTTP histograms.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.GenerationDuration, err = m.Float64Histogram("evanote.generation.duration",
		metric.WithDescription("End-to-end note generation latency including retries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("evanote.llm.duration",
		metric.WithDescription("Latency of a single LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Generations, err = m.Int64Counter("evanote.generations",
		metric.WithDescription("Total generation pipeline runs by status and language."),
	); err != nil {
		return nil, err
	}
	if met.Tokens, err = m.Int64Counter("evanote.llm.tokens",
		metric.WithDescription("Total LLM tokens by direction."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("evanote.provider.errors",
		metric.WithDescription("Total LLM backend errors by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveGenerations, err = m.Int64UpDownCounter("evanote.active_generations",
		metric.WithDescription("Number of in-flight generation pipelines."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("evanote.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordGeneration records one finished pipeline run with its duration.
func (m *Metrics) RecordGeneration(ctx context.Context, status, language string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("language", language),
	)
	m.Generations.Add(ctx, 1, attrs)
	m.GenerationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordTokens records token usage for one completion.
func (m *Metrics) RecordTokens(ctx context.Context, in, out int) {
	m.Tokens.Add(ctx, int64(in),
		metric.WithAttributes(attribute.String("direction", "in")))
	m.Tokens.Add(ctx, int64(out),
		metric.WithAttributes(attribute.String("direction", "out")))
}

// RecordProviderError records one LLM backend error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)))
}
