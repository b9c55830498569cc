// Package observe provides application-wide observability primitives for the
// viewpoint retrieval service: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all service metrics.
const meterName = "github.com/mrwong99/viewpointrag"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// IntentExtractionDuration tracks query-intent extraction latency
	// (text-only and multimodal/image-assisted requests alike).
	IntentExtractionDuration metric.Float64Histogram

	// RetrievalDuration tracks the retrieval layer's primitive/composite/
	// LLM-SQL query latency.
	RetrievalDuration metric.Float64Histogram

	// EnrichmentDuration tracks per-candidate payload enrichment latency.
	EnrichmentDuration metric.Float64Histogram

	// RankingDuration tracks the fusion/ranking stage latency.
	RankingDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency (intent extraction and
	// LLM-SQL synthesis calls alike).
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks agent tool-call execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// QueriesServed counts completed /query and /agent/query requests. Use
	// with attribute: attribute.String("mode", "direct"|"agent")
	QueriesServed metric.Int64Counter

	// RetrievalFallbacks counts retrieval cascade steps past the first
	// primitive — i.e., how often the deterministic primitives alone were
	// insufficient and the cascade advanced to LLM-SQL or returned empty.
	RetrievalFallbacks metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveAgentLoops tracks the number of in-flight agent tool-calling loops.
	ActiveAgentLoops metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) spanning
// fast deterministic-primitive queries through slow LLM-SQL/vision calls.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.IntentExtractionDuration, err = m.Float64Histogram("viewpointrag.intent_extraction.duration",
		metric.WithDescription("Latency of query intent extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("viewpointrag.retrieval.duration",
		metric.WithDescription("Latency of the retrieval layer (primitives, composite, LLM-SQL)."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EnrichmentDuration, err = m.Float64Histogram("viewpointrag.enrichment.duration",
		metric.WithDescription("Latency of per-candidate payload enrichment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RankingDuration, err = m.Float64Histogram("viewpointrag.ranking.duration",
		metric.WithDescription("Latency of the fusion/ranking stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("viewpointrag.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("viewpointrag.tool_execution.duration",
		metric.WithDescription("Latency of agent tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("viewpointrag.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("viewpointrag.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.QueriesServed, err = m.Int64Counter("viewpointrag.queries.served",
		metric.WithDescription("Total completed query requests by mode."),
	); err != nil {
		return nil, err
	}
	if met.RetrievalFallbacks, err = m.Int64Counter("viewpointrag.retrieval.fallbacks",
		metric.WithDescription("Total retrieval cascade steps past the first primitive."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("viewpointrag.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAgentLoops, err = m.Int64UpDownCounter("viewpointrag.active_agent_loops",
		metric.WithDescription("Number of in-flight agent tool-calling loops."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("viewpointrag.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordQueryServed is a convenience method that records a completed query
// counter increment for the given serving mode ("direct" or "agent").
func (m *Metrics) RecordQueryServed(ctx context.Context, mode string) {
	m.QueriesServed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordRetrievalFallback is a convenience method that records a retrieval
// cascade step past the first primitive.
func (m *Metrics) RecordRetrievalFallback(ctx context.Context, step string) {
	m.RetrievalFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("step", step)),
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
