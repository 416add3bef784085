// Package observe provides application-wide observability primitives for
// voxcal: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all voxcal metrics.
const meterName = "github.com/MrWong99/voxcal"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks recognition latency. Attribute: engine.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks synthesis latency including fallbacks.
	// Attribute: engine ("text-only" when no engine produced audio).
	TTSDuration metric.Float64Histogram

	// CleanerDuration tracks the four-stage audio cleanup.
	CleanerDuration metric.Float64Histogram

	// ExecutorDuration tracks intent execution latency. Attributes: command,
	// status.
	ExecutorDuration metric.Float64Histogram

	// --- Counters ---

	// Transitions counts state machine transitions. Attributes: from, to,
	// trigger.
	Transitions metric.Int64Counter

	// WakeDetections counts wake detections above the sensitivity threshold.
	// Attribute: outcome ("confirmed", "false_positive").
	WakeDetections metric.Int64Counter

	// STTRetries counts "please repeat" re-prompts.
	STTRetries metric.Int64Counter

	// NoiseWarnings counts captures refused for ambient noise.
	NoiseWarnings metric.Int64Counter

	// Fallbacks counts requests served by a non-primary engine. Attributes:
	// kind ("stt", "tts"), engine.
	Fallbacks metric.Int64Counter

	// DroppedFrames counts frames discarded for sequence order or
	// back-pressure. Attribute: reason.
	DroppedFrames metric.Int64Counter

	// ProviderRequests counts engine calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts engine errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of confirmed sessions in flight.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.STTDuration, err = histogram("voxcal.stt.duration",
		"Latency of speech recognition."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("voxcal.tts.duration",
		"Latency of speech synthesis including fallbacks."); err != nil {
		return nil, err
	}
	if met.CleanerDuration, err = histogram("voxcal.cleaner.duration",
		"Latency of captured audio cleanup."); err != nil {
		return nil, err
	}
	if met.ExecutorDuration, err = histogram("voxcal.executor.duration",
		"Latency of intent execution."); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transitions, err = m.Int64Counter("voxcal.pipeline.transitions",
		metric.WithDescription("State machine transitions by from, to, and trigger."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("voxcal.wake.detections",
		metric.WithDescription("Wake detections by outcome."),
	); err != nil {
		return nil, err
	}
	if met.STTRetries, err = m.Int64Counter("voxcal.stt.retries",
		metric.WithDescription("Low-confidence re-prompts."),
	); err != nil {
		return nil, err
	}
	if met.NoiseWarnings, err = m.Int64Counter("voxcal.capture.noise_warnings",
		metric.WithDescription("Captures refused because the room was too loud."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("voxcal.provider.fallbacks",
		metric.WithDescription("Requests served by a fallback engine, by kind and engine."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("voxcal.audio.dropped_frames",
		metric.WithDescription("Audio frames dropped, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxcal.provider.requests",
		metric.WithDescription("Total engine requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("voxcal.provider.errors",
		metric.WithDescription("Total engine errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxcal.active_sessions",
		metric.WithDescription("Number of confirmed voice sessions in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxcal.http.request.duration",
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

// RecordProviderRequest records an engine call with its outcome and latency.
// kind is "stt" or "tts"; status is "ok" or "error".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records an engine error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTransition counts one state machine transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, trigger string) {
	m.Transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("trigger", trigger),
		),
	)
}

// RecordFallback counts a request that a non-primary engine served.
func (m *Metrics) RecordFallback(ctx context.Context, kind, engine string) {
	m.Fallbacks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("engine", engine),
		),
	)
}

// RecordWake counts a wake detection by outcome.
func (m *Metrics) RecordWake(ctx context.Context, outcome string) {
	m.WakeDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDroppedFrames counts n dropped frames.
func (m *Metrics) RecordDroppedFrames(ctx context.Context, reason string, n int64) {
	m.DroppedFrames.Add(ctx, n, metric.WithAttributes(attribute.String("reason", reason)))
}

// ObserveStage records d on h with the given attributes.
func ObserveStage(ctx context.Context, h metric.Float64Histogram, d time.Duration, attrs ...attribute.KeyValue) {
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}
