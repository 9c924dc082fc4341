// Package observe provides application-wide observability primitives for
// Luna: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Luna metrics.
const meterName = "github.com/MrWong99/luna"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks how long speaking one sentence takes, greetings and
	// replies alike. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	TTSDuration metric.Float64Histogram

	// CommandDuration tracks intent recognition plus execution per command.
	CommandDuration metric.Float64Histogram

	// --- Counters ---

	// FramesCaptured counts audio frames accepted into the audio queue.
	FramesCaptured metric.Int64Counter

	// QueueDrops counts items dropped because a bounded queue was full. Use
	// with attribute:
	//   attribute.String("queue", ...)
	QueueDrops metric.Int64Counter

	// PhraseEvents counts wake and sleep detections. Use with attribute:
	//   attribute.String("kind", "wake"|"sleep")
	PhraseEvents metric.Int64Counter

	// Commands counts processed commands. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// RecognitionFailures counts speech-to-text requests that failed. Use
	// with attribute:
	//   attribute.String("reason", ...)
	RecognitionFailures metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// Awake is 1 while the assistant is awake and 0 while it sleeps.
	Awake metric.Int64UpDownCounter

	// NotificationClients tracks the number of connected notification
	// subscribers.
	NotificationClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
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

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("luna.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("luna.tts.duration",
		metric.WithDescription("Time spent speaking one sentence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CommandDuration, err = m.Float64Histogram("luna.command.duration",
		metric.WithDescription("Latency of intent recognition and execution per command."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("luna.audio.frames",
		metric.WithDescription("Total audio frames accepted into the audio queue."),
	); err != nil {
		return nil, err
	}
	if met.QueueDrops, err = m.Int64Counter("luna.queue.drops",
		metric.WithDescription("Total items dropped by full bounded queues, by queue."),
	); err != nil {
		return nil, err
	}
	if met.PhraseEvents, err = m.Int64Counter("luna.phrase.events",
		metric.WithDescription("Total wake and sleep phrase detections by kind."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("luna.commands",
		metric.WithDescription("Total processed commands by intent and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("luna.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.RecognitionFailures, err = m.Int64Counter("luna.stt.failures",
		metric.WithDescription("Total failed speech-to-text requests by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("luna.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.Awake, err = m.Int64UpDownCounter("luna.awake",
		metric.WithDescription("1 while the assistant is awake, 0 otherwise."),
	); err != nil {
		return nil, err
	}
	if met.NotificationClients, err = m.Int64UpDownCounter("luna.notify.clients",
		metric.WithDescription("Number of connected notification subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("luna.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route pattern and status."),
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

// RecordQueueDrop records one item dropped by the named queue.
func (m *Metrics) RecordQueueDrop(ctx context.Context, queue string) {
	m.QueueDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

// RecordPhraseEvent records a wake or sleep detection.
func (m *Metrics) RecordPhraseEvent(ctx context.Context, wake bool) {
	kind := "sleep"
	if wake {
		kind = "wake"
	}
	m.PhraseEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCommand is a convenience method that records a processed command with
// the standard attribute set.
func (m *Metrics) RecordCommand(ctx context.Context, intent, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("status", status),
		),
	)
}

// RecordSpeech records one Speak call that took d and returned err.
func (m *Metrics) RecordSpeech(ctx context.Context, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.TTSDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordRecognitionFailure records a failed speech-to-text request.
func (m *Metrics) RecordRecognitionFailure(ctx context.Context, reason string) {
	m.RecognitionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderRequest records one attempt against a provider entry of a
// fallback group. status is "ok", "error" or "circuit_open".
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one failed provider attempt.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
