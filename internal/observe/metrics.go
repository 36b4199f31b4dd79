// Package observe provides observability primitives for the scribed
// daemon: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware for the debug endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the debug server's /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all scribed metrics.
const meterName = "scribed"

// Request outcome attribute values for [Metrics.RecordRequest].
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeGated     = "gated"
	OutcomeNoSpeech  = "no_speech"
	OutcomeMalformed = "malformed"
	OutcomePong      = "pong"
)

// Metrics holds all OpenTelemetry metric instruments for the daemon.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscribeDuration tracks end-to-end latency of one transcription
	// request, from inbox pickup to response publication.
	TranscribeDuration metric.Float64Histogram

	// PreprocessDuration tracks the noise-reduction stage latency.
	PreprocessDuration metric.Float64Histogram

	// AudioDuration tracks the length of submitted recordings.
	AudioDuration metric.Float64Histogram

	// Requests counts handled requests. Use with attribute:
	//   attribute.String("outcome", ...)
	Requests metric.Int64Counter

	// EngineLoads counts model loads. Use with attribute:
	//   attribute.String("device", ...)
	EngineLoads metric.Int64Counter

	// EngineUnloads counts model unloads. Use with attribute:
	//   attribute.String("reason", ...)
	EngineUnloads metric.Int64Counter

	// ModelResident tracks whether the model is in memory (0 or 1).
	ModelResident metric.Int64UpDownCounter

	// HTTPRequestDuration tracks debug endpoint request processing time.
	// Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// hotkey-to-text latencies: sub-second preprocessing up to multi-second
// model loads and long transcriptions.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("scribed.transcribe.duration",
		metric.WithDescription("End-to-end latency of a transcription request."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PreprocessDuration, err = m.Float64Histogram("scribed.preprocess.duration",
		metric.WithDescription("Latency of the audio noise-reduction stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioDuration, err = m.Float64Histogram("scribed.audio.duration",
		metric.WithDescription("Length of submitted recordings."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Requests, err = m.Int64Counter("scribed.requests",
		metric.WithDescription("Total handled requests by outcome."),
	); err != nil {
		return nil, err
	}
	if met.EngineLoads, err = m.Int64Counter("scribed.engine.loads",
		metric.WithDescription("Total model loads by device."),
	); err != nil {
		return nil, err
	}
	if met.EngineUnloads, err = m.Int64Counter("scribed.engine.unloads",
		metric.WithDescription("Total model unloads by reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ModelResident, err = m.Int64UpDownCounter("scribed.model.resident",
		metric.WithDescription("Whether the speech model is currently in memory."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("scribed.http.request.duration",
		metric.WithDescription("Debug endpoint request latency by method and path."),
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

// RecordRequest records one handled request with its outcome.
func (m *Metrics) RecordRequest(ctx context.Context, outcome string) {
	m.Requests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordEngineLoad records a model load on the given device and marks the
// model resident.
func (m *Metrics) RecordEngineLoad(ctx context.Context, device string) {
	m.EngineLoads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("device", device)),
	)
	m.ModelResident.Add(ctx, 1)
}

// RecordEngineUnload records a model unload with the triggering reason
// ("idle", "shutdown", "emergency") and marks the model non-resident.
func (m *Metrics) RecordEngineUnload(ctx context.Context, reason string) {
	m.EngineUnloads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.ModelResident.Add(ctx, -1)
}
