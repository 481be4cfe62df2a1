// Package observe provides application-wide observability primitives for
// Hearken: OpenTelemetry metrics with a Prometheus exporter bridge so the
// standard /metrics endpoint keeps working, plus tracing helpers and HTTP
// middleware with W3C trace-context propagation.
//
// A package-level default [Metrics] instance ([Default]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Hearken metrics.
const meterName = "github.com/hearken-audio/hearken"

// Metrics holds all OpenTelemetry metric instruments for the server.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// InferenceDuration tracks a single wake model inference call. Use with
	// attribute.String("model", ...).
	InferenceDuration metric.Float64Histogram

	// Detections counts triggered wake word detections. Use with
	// attribute.String("model", ...).
	Detections metric.Int64Counter

	// InferenceErrors counts failed inference calls. Use with
	// attribute.String("model", ...).
	InferenceErrors metric.Int64Counter

	// FramingErrors counts dropped malformed audio chunks.
	FramingErrors metric.Int64Counter

	// ActiveSessions tracks the number of live client sessions.
	ActiveSessions metric.Int64UpDownCounter

	// AudioBytes counts audio payload bytes accepted from clients.
	AudioBytes metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request handling time. Use with
	// attribute.String("method", ...) and attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame inference latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.InferenceDuration, err = m.Float64Histogram("hearken.inference.duration",
		metric.WithDescription("Latency of a single wake model inference call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Detections, err = m.Int64Counter("hearken.detections",
		metric.WithDescription("Triggered wake word detections."),
	); err != nil {
		return nil, err
	}

	if met.InferenceErrors, err = m.Int64Counter("hearken.inference.errors",
		metric.WithDescription("Failed wake model inference calls."),
	); err != nil {
		return nil, err
	}

	if met.FramingErrors, err = m.Int64Counter("hearken.audio.framing_errors",
		metric.WithDescription("Malformed audio chunks dropped."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("hearken.sessions.active",
		metric.WithDescription("Live client sessions."),
	); err != nil {
		return nil, err
	}

	if met.AudioBytes, err = m.Int64Counter("hearken.audio.bytes",
		metric.WithDescription("Audio payload bytes accepted from clients."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("hearken.http.request.duration",
		metric.WithDescription("HTTP request handling time."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide Metrics instance backed by the global
// OTel meter provider. Initialised lazily on first call; instrument creation
// errors are impossible with the global provider's no-op fallback, so the
// error is discarded.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics, _ = NewMetrics(otel.GetMeterProvider())
	})
	return defaultMetrics
}
