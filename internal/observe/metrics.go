// Package observe provides application-wide observability primitives for
// Parley: OpenTelemetry metrics, distributed tracing, structured logging,
// a rolling per-stage latency window and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all Parley metrics.
const meterName = "github.com/MrWong99/parley"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks dialogue pipeline stage latency. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// LLMDuration tracks time to the last streamed response token.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency per unit.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed pipeline runs. Use with attributes:
	//   attribute.String("npc_id", ...), attribute.String("action", ...)
	Turns metric.Int64Counter

	// ScorerFallbacks counts turns that fell back to the default action.
	// Use with attribute.String("reason", ...).
	ScorerFallbacks metric.Int64Counter

	// CollaboratorErrors counts isolated memory/history failures. Use with
	// attribute.String("collaborator", ...).
	CollaboratorErrors metric.Int64Counter

	// CuesServed counts instant cues sent to players. Use with
	// attribute.String("category", ...).
	CuesServed metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Reward ---

	// Rewards tracks the distribution of computed reward values.
	Rewards metric.Float64Histogram

	// ExplicitNegatives counts utterances that hit an explicit complaint.
	ExplicitNegatives metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of dialogue streams being served.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for dialogue-pipeline latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

var rewardBuckets = []float64{-1, -0.5, -0.3, 0, 0.1, 0.5, 1}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("parley.pipeline.stage.duration",
		metric.WithDescription("Latency of a dialogue pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("parley.llm.duration",
		metric.WithDescription("Latency of a streamed LLM response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("parley.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Rewards, err = m.Float64Histogram("parley.reward.value",
		metric.WithDescription("Distribution of player reward values."),
		metric.WithExplicitBucketBoundaries(rewardBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("parley.pipeline.turns",
		metric.WithDescription("Total pipeline runs by NPC and chosen action."),
	); err != nil {
		return nil, err
	}
	if met.ScorerFallbacks, err = m.Int64Counter("parley.scorer.fallbacks",
		metric.WithDescription("Turns that fell back to the default action, by reason."),
	); err != nil {
		return nil, err
	}
	if met.CollaboratorErrors, err = m.Int64Counter("parley.pipeline.collaborator_errors",
		metric.WithDescription("Isolated memory or history failures by collaborator."),
	); err != nil {
		return nil, err
	}
	if met.CuesServed, err = m.Int64Counter("parley.cues.served",
		metric.WithDescription("Instant cues served by category."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parley.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parley.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ExplicitNegatives, err = m.Int64Counter("parley.reward.explicit_negatives",
		metric.WithDescription("Player utterances containing an explicit complaint."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("parley.active_streams",
		metric.WithDescription("Number of dialogue streams being served."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parley.http.request.duration",
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

// RecordStage records one pipeline stage duration.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordTurn records a completed pipeline run.
func (m *Metrics) RecordTurn(ctx context.Context, npcID, action string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("npc_id", npcID),
			attribute.String("action", action),
		),
	)
}

// RecordScorerFallback records a turn that used the default action.
func (m *Metrics) RecordScorerFallback(ctx context.Context, reason string) {
	m.ScorerFallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordCollaboratorError records an isolated Stage 2 failure.
func (m *Metrics) RecordCollaboratorError(ctx context.Context, collaborator string) {
	m.CollaboratorErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("collaborator", collaborator)),
	)
}

// RecordCue records an instant cue sent to the player.
func (m *Metrics) RecordCue(ctx context.Context, category string) {
	m.CuesServed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("category", category)),
	)
}

// RecordReward records a computed reward and, when set, an explicit negative.
func (m *Metrics) RecordReward(ctx context.Context, value float64, explicitNegative bool) {
	m.Rewards.Record(ctx, value)
	if explicitNegative {
		m.ExplicitNegatives.Add(ctx, 1)
	}
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
