// Package observe provides application-wide observability primitives for
// the gateway: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/example/modelgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RouteDuration tracks how long the Router spends filtering and
	// scoring candidates for one request.
	RouteDuration metric.Float64Histogram

	// ProcessDuration tracks end-to-end Process latency, from cache
	// lookup through the final driver response.
	ProcessDuration metric.Float64Histogram

	// ProviderCallDuration tracks one vendor driver call's latency.
	ProviderCallDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("model", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CacheLookups counts Response Cache lookups. Use with attribute:
	//   attribute.String("outcome", ...) one of "hit", "miss"
	CacheLookups metric.Int64Counter

	// CostGateDecisions counts Cost & Security Gate pre-flight verdicts.
	// Use with attributes:
	//   attribute.String("tier", ...), attribute.Bool("admitted", ...), attribute.String("reason", ...)
	CostGateDecisions metric.Int64Counter

	// FallbackAttempts counts router.Execute candidate attempts beyond
	// the first, i.e. actual fallbacks taken. Use with attribute:
	//   attribute.String("task", ...)
	FallbackAttempts metric.Int64Counter

	// SessionSummarizations counts times a session's history was
	// condensed by the configured Summarizer.
	SessionSummarizations metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions held by the
	// Session Store.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds),
// spanning the gateway's expected range from a cache hit (sub-millisecond)
// to a slow vendor completion (tens of seconds).
var latencyBuckets = []float64{
	0.001, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RouteDuration, err = m.Float64Histogram("modelgate.route.duration",
		metric.WithDescription("Latency of candidate filtering and scoring."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProcessDuration, err = m.Float64Histogram("modelgate.process.duration",
		metric.WithDescription("End-to-end Process latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderCallDuration, err = m.Float64Histogram("modelgate.provider_call.duration",
		metric.WithDescription("Latency of a single vendor driver call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("modelgate.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("modelgate.provider.requests",
		metric.WithDescription("Total provider API requests by provider, model, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("modelgate.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("modelgate.cache.lookups",
		metric.WithDescription("Total response cache lookups by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CostGateDecisions, err = m.Int64Counter("modelgate.costgate.decisions",
		metric.WithDescription("Total cost gate pre-flight verdicts by tier, admission, and reason."),
	); err != nil {
		return nil, err
	}
	if met.FallbackAttempts, err = m.Int64Counter("modelgate.router.fallback_attempts",
		metric.WithDescription("Total candidate attempts beyond the first per task."),
	); err != nil {
		return nil, err
	}
	if met.SessionSummarizations, err = m.Int64Counter("modelgate.session.summarizations",
		metric.WithDescription("Total session history summarizations performed."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("modelgate.active_sessions",
		metric.WithDescription("Number of sessions currently held by the session store."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen
// with the global provider).
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, model, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("model", model),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordCacheLookup records a cache lookup outcome ("hit" or "miss").
func (m *Metrics) RecordCacheLookup(ctx context.Context, outcome string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCostGateDecision records a cost gate verdict.
func (m *Metrics) RecordCostGateDecision(ctx context.Context, tier string, admitted bool, reason string) {
	m.CostGateDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.Bool("admitted", admitted),
			attribute.String("reason", reason),
		),
	)
}
