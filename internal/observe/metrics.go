// Package observe provides application-wide observability primitives for
// speechio: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to Prometheus so they can be scraped via [MetricsHandler]. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/speechio/pkg/audio/playback"
)

// meterName is the instrumentation scope name used for all speechio metrics.
const meterName = "github.com/MrWong99/speechio"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms ---

	// TTSFirstAudio tracks the time from a speak request to the first
	// synthesized chunk reaching the output queue.
	TTSFirstAudio metric.Float64Histogram

	// TTSPlaybackDuration tracks how long a full speak request took,
	// including playback drain.
	TTSPlaybackDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// CaptureDuration tracks how long microphone capture ran. Use with
	// attribute.String("outcome", ...).
	CaptureDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CaptureOutcomes counts finished captures by outcome.
	CaptureOutcomes metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// synthesis and recognition latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// durationBuckets covers whole utterances and playback, which run for
// seconds rather than milliseconds.
var durationBuckets = []float64{
	0.25, 0.5, 1, 2, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&met.TTSFirstAudio, "speechio.tts.first_audio", "Latency from speak request to first queued audio.", latencyBuckets},
		{&met.TTSPlaybackDuration, "speechio.tts.playback.duration", "Duration of a speak request including playback.", durationBuckets},
		{&met.STTDuration, "speechio.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets},
		{&met.CaptureDuration, "speechio.capture.duration", "Duration of microphone capture by outcome.", durationBuckets},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(h.buckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("speechio.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("speechio.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CaptureOutcomes, err = m.Int64Counter("speechio.capture.outcomes",
		metric.WithDescription("Total finished captures by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("speechio.breaker.transitions",
		metric.WithDescription("Total circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speechio.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObservePlayback registers asynchronous instruments reporting the playback
// engine's queue depth, underruns and waiting-tone activations. stats is
// called on every collection. Unregister the returned registration when the
// engine goes away.
func (m *Metrics) ObservePlayback(stats func() playback.Stats) (metric.Registration, error) {
	queued, err := m.meter.Int64ObservableGauge("speechio.playback.queued",
		metric.WithDescription("Samples waiting in the output queue."),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}
	underruns, err := m.meter.Int64ObservableCounter("speechio.playback.underruns",
		metric.WithDescription("Device callbacks that could not be filled from the queue."),
	)
	if err != nil {
		return nil, err
	}
	feeder, err := m.meter.Int64ObservableCounter("speechio.playback.feeder_activations",
		metric.WithDescription("Times the waiting tone started filling an idle queue."),
	)
	if err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(queued, int64(s.Queued))
		o.ObserveInt64(underruns, int64(s.Underruns))
		o.ObserveInt64(feeder, int64(s.FeederActivations))
		return nil
	}, queued, underruns, feeder)
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set. A non-empty err also counts a provider error.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("kind", kind),
			),
		)
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordCapture records a finished capture's outcome and duration.
func (m *Metrics) RecordCapture(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.CaptureOutcomes.Add(ctx, 1, attrs)
	m.CaptureDuration.Record(ctx, seconds, attrs)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
