// Package observe holds the OpenTelemetry metric instruments for the memory
// pipeline and the Prometheus-backed meter provider setup.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all instruments below.
const meterName = "github.com/phucnt/kioku"

// Metrics holds the metric instruments for the save and search pipelines.
// All fields are safe for concurrent use.
type Metrics struct {
	// SaveDuration tracks end-to-end save latency.
	SaveDuration metric.Float64Histogram

	// SearchDuration tracks end-to-end search latency.
	SearchDuration metric.Float64Histogram

	// LegDuration tracks per-leg retrieval latency. Use with attribute:
	//   attribute.String("leg", "bm25"|"vector"|"graph")
	LegDuration metric.Float64Histogram

	// ExtractionDuration tracks entity extraction latency.
	ExtractionDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding latency.
	EmbeddingDuration metric.Float64Histogram

	// Saves counts save operations. Use with attribute:
	//   attribute.String("status", "ok"|"duplicate"|"error")
	Saves metric.Int64Counter

	// Searches counts search operations by status.
	Searches metric.Int64Counter

	// BackendErrors counts backend failures. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("op", ...)
	BackendErrors metric.Int64Counter

	// FallbacksTaken counts how often a provider ladder stepped past its
	// primary. Use with attributes:
	//   attribute.String("ladder", ...), attribute.String("target", ...)
	FallbacksTaken metric.Int64Counter
}

// latencyBuckets covers the pipeline's spread, from a sub-millisecond FTS
// query to a multi-second LLM extraction.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.SaveDuration, "kioku.save.duration", "End-to-end memory save latency."},
		{&met.SearchDuration, "kioku.search.duration", "End-to-end memory search latency."},
		{&met.LegDuration, "kioku.leg.duration", "Per-leg retrieval latency by leg."},
		{&met.ExtractionDuration, "kioku.extraction.duration", "Entity extraction latency."},
		{&met.EmbeddingDuration, "kioku.embedding.duration", "Embedding latency."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Saves, "kioku.saves", "Total save operations by status."},
		{&met.Searches, "kioku.searches", "Total search operations by status."},
		{&met.BackendErrors, "kioku.backend.errors", "Total backend failures by backend and operation."},
		{&met.FallbacksTaken, "kioku.fallbacks", "Total times a provider ladder stepped past its primary."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name,
			metric.WithDescription(c.desc),
		); err != nil {
			return nil, err
		}
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from the global meter provider. Panics if instrument creation fails, which
// cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSave records one save with its duration and status.
func (m *Metrics) RecordSave(ctx context.Context, d time.Duration, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Saves.Add(ctx, 1, attrs)
	m.SaveDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSearch records one search with its duration and status.
func (m *Metrics) RecordSearch(ctx context.Context, d time.Duration, status string) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.Searches.Add(ctx, 1, attrs)
	m.SearchDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordLeg records one retrieval leg's duration.
func (m *Metrics) RecordLeg(ctx context.Context, leg string, d time.Duration) {
	m.LegDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("leg", leg)))
}

// RecordBackendError counts one backend failure.
func (m *Metrics) RecordBackendError(ctx context.Context, backend, op string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("op", op),
		))
}

// RecordFallback counts one step past a ladder's primary, tagged with the
// rung that was selected instead.
func (m *Metrics) RecordFallback(ctx context.Context, ladder, target string) {
	m.FallbacksTaken.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("ladder", ladder),
			attribute.String("target", target),
		))
}

// RecordExtraction records one entity extraction's duration.
func (m *Metrics) RecordExtraction(ctx context.Context, d time.Duration) {
	m.ExtractionDuration.Record(ctx, d.Seconds())
}

// RecordEmbedding records one embedding call's duration.
func (m *Metrics) RecordEmbedding(ctx context.Context, d time.Duration) {
	m.EmbeddingDuration.Record(ctx, d.Seconds())
}
