// Package observe provides application-wide observability primitives for
// Ember: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Ember metrics.
const meterName = "github.com/emberassist/ember"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// InterpretDuration tracks utterance interpretation latency (LLM call
	// plus parsing).
	InterpretDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// EmbedDuration tracks embedding computation latency.
	EmbedDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Confirmations counts confirmed dialog outcomes. Use with attribute:
	//   attribute.String("mode", "manual"|"auto")
	Confirmations metric.Int64Counter

	// Cancellations counts cancelled dialog sessions.
	Cancellations metric.Int64Counter

	// AlertsSent counts caregiver alert deliveries. Use with attributes:
	//   attribute.String("channel", ...), attribute.String("status", ...)
	AlertsSent metric.Int64Counter

	// HomeCommands counts smart-home command executions. Use with attribute:
	//   attribute.String("status", ...)
	HomeCommands metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live disambiguation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech-pipeline latencies.
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
	if met.STTDuration, err = m.Float64Histogram("ember.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InterpretDuration, err = m.Float64Histogram("ember.interpret.duration",
		metric.WithDescription("Latency of utterance interpretation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("ember.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbedDuration, err = m.Float64Histogram("ember.embed.duration",
		metric.WithDescription("Latency of embedding computation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("ember.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Confirmations, err = m.Int64Counter("ember.dialog.confirmations",
		metric.WithDescription("Total confirmed dialog outcomes by mode (manual or auto)."),
	); err != nil {
		return nil, err
	}
	if met.Cancellations, err = m.Int64Counter("ember.dialog.cancellations",
		metric.WithDescription("Total cancelled dialog sessions."),
	); err != nil {
		return nil, err
	}
	if met.AlertsSent, err = m.Int64Counter("ember.alerts.sent",
		metric.WithDescription("Total caregiver alert deliveries by channel and status."),
	); err != nil {
		return nil, err
	}
	if met.HomeCommands, err = m.Int64Counter("ember.smarthome.commands",
		metric.WithDescription("Total smart-home command executions by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("ember.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("ember.active_sessions",
		metric.WithDescription("Number of live disambiguation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ember.http.request.duration",
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

// RecordConfirmation records a confirmed outcome. mode is "manual" for
// user-initiated confirms and "auto" for countdown confirms.
func (m *Metrics) RecordConfirmation(ctx context.Context, mode string) {
	m.Confirmations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordCancellation records a cancelled session.
func (m *Metrics) RecordCancellation(ctx context.Context) {
	m.Cancellations.Add(ctx, 1)
}

// RecordAlert records an alert delivery attempt on a channel with the given
// status ("ok" or "error").
func (m *Metrics) RecordAlert(ctx context.Context, channel, status string) {
	m.AlertsSent.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("status", status),
		),
	)
}

// RecordHomeCommand records a smart-home command execution with the given
// status ("ok" or "error").
func (m *Metrics) RecordHomeCommand(ctx context.Context, status string) {
	m.HomeCommands.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
