// Package observe holds the OpenTelemetry wiring shared by the tracker, the
// corpus builder and the HTTP server: metric instruments, span helpers,
// trace-aware loggers and the request middleware.
//
// [InitProvider] installs the global providers and bridges metrics to a
// Prometheus registry served on /metrics. Tests build their own [Metrics]
// with [NewMetrics] and a manual reader.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all foodtracker metrics.
const meterName = "github.com/MrWong99/foodtracker"

// Metrics holds the instruments. All fields are safe for concurrent use.
type Metrics struct {
	// EmbedDuration tracks embedding latency. Attributes: provider, kind
	// (text|image|batch).
	EmbedDuration metric.Float64Histogram

	// RankDuration tracks matcher ranking latency over the whole index.
	RankDuration metric.Float64Histogram

	// CorpusBuildDuration tracks full corpus index builds.
	CorpusBuildDuration metric.Float64Histogram

	// ProviderRequests counts embedding provider calls. Attributes: provider,
	// kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts embedding provider errors. Attributes: provider,
	// kind.
	ProviderErrors metric.Int64Counter

	// CorpusCacheLookups counts startup cache decisions. Attribute: result
	// (hit|miss|error).
	CorpusCacheLookups metric.Int64Counter

	// StoreWrites counts entry/goal mutations. Attributes: op, status.
	StoreWrites metric.Int64Counter

	// StoreRecoveries counts stores opened from backup or reset to empty.
	// Attribute: result (backup|reset).
	StoreRecoveries metric.Int64Counter

	// EntriesLogged counts successfully logged entries. Attribute: source
	// (match|manual).
	EntriesLogged metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// replica, to (closed|open|half-open).
	BreakerTransitions metric.Int64Counter

	// CorpusRows is the number of rows in the active corpus index.
	CorpusRows metric.Int64Gauge

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, route, code.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPInFlight is the number of requests being served.
	HTTPInFlight metric.Int64UpDownCounter
}

// latencyBuckets (seconds) span a sub-millisecond lexical embed up to a cold
// pretrained model.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// buildBuckets cover corpus builds from a few ms up to minutes.
var buildBuckets = []float64{
	0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300,
}

// instruments creates instruments on one meter and collects the errors.
type instruments struct {
	meter metric.Meter
	errs  []error
}

func (b *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.errs = append(b.errs, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.errs = append(b.errs, err)
	return c
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	m := &Metrics{
		EmbedDuration:       b.seconds("foodtracker.embed.duration", "Latency of embedding a query or corpus batch.", latencyBuckets),
		RankDuration:        b.seconds("foodtracker.matcher.rank.duration", "Latency of ranking a query against the corpus index.", latencyBuckets),
		CorpusBuildDuration: b.seconds("foodtracker.corpus.build.duration", "Latency of a full corpus index build.", buildBuckets),
		HTTPRequestDuration: b.seconds("foodtracker.http.request.duration", "HTTP request latency by method, route and status code.", nil),

		ProviderRequests:   b.counter("foodtracker.provider.requests", "Embedding provider requests by provider, kind and status."),
		ProviderErrors:     b.counter("foodtracker.provider.errors", "Embedding provider errors by provider and kind."),
		BreakerTransitions: b.counter("foodtracker.provider.breaker.transitions", "Embedding replica circuit breaker transitions by target state."),
		CorpusCacheLookups: b.counter("foodtracker.corpus.cache.lookups", "Corpus cache lookups by result."),
		StoreWrites:        b.counter("foodtracker.store.writes", "Entry store mutations by operation and status."),
		StoreRecoveries:    b.counter("foodtracker.store.recoveries", "Entry stores opened from backup or reset to empty."),
		EntriesLogged:      b.counter("foodtracker.entries.logged", "Logged food entries by source."),
	}

	var err error
	m.CorpusRows, err = b.meter.Int64Gauge("foodtracker.corpus.rows",
		metric.WithDescription("Rows in the active corpus index."))
	b.errs = append(b.errs, err)
	m.HTTPInFlight, err = b.meter.Int64UpDownCounter("foodtracker.http.requests.inflight",
		metric.WithDescription("HTTP requests currently being served."))
	b.errs = append(b.errs, err)

	if err := errors.Join(b.errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] on the global meter
// provider, created on first use. Install the provider with [InitProvider]
// before the first call or the instruments stay no-ops.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic(err)
		}
	})
	return defaultMetrics
}

// Status maps an error to the "ok"/"error" status attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordEmbed records one embedding call: its latency, the request counter
// and, on failure, the error counter.
func (m *Metrics) RecordEmbed(ctx context.Context, provider, kind string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	)
	m.EmbedDuration.Record(ctx, elapsed.Seconds(), attrs)
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", Status(err)),
	))
	if err != nil {
		m.ProviderErrors.Add(ctx, 1, attrs)
	}
}

// RecordCacheLookup records a corpus cache lookup result.
func (m *Metrics) RecordCacheLookup(ctx context.Context, result string) {
	m.CorpusCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordStoreWrite records an entry store mutation.
func (m *Metrics) RecordStoreWrite(ctx context.Context, op string, err error) {
	m.StoreWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", Status(err)),
		),
	)
}

// RecordStoreRecovery records a store opened from backup or reset.
func (m *Metrics) RecordStoreRecovery(ctx context.Context, result string) {
	m.StoreRecoveries.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordEntryLogged records a successfully logged entry.
func (m *Metrics) RecordEntryLogged(ctx context.Context, source string) {
	m.EntriesLogged.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordBreakerTransition records a replica's circuit breaker changing state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, replica, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("replica", replica),
			attribute.String("to", to),
		),
	)
}
