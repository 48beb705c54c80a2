// Package observe carries Dictum's telemetry: OpenTelemetry instruments for
// the dictation pipeline, segment and session spans, context-aware slog
// loggers and the control API middleware.
//
// Instruments are created from any [metric.MeterProvider] with [NewMetrics].
// The daemon installs a Prometheus-backed provider through [InitProvider] and
// components fall back to [DefaultMetrics] when none is injected. Tests build
// their own provider around a ManualReader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of every Dictum instrument.
const meterName = "github.com/MrWong99/dictum"

// Metrics holds the instruments recorded along the capture, segmentation,
// dispatch and delivery path. The OTel instruments are safe for concurrent
// use.
type Metrics struct {
	// Capture and segmentation.

	// VADDuration is the per-chunk voice activity detection latency.
	VADDuration metric.Float64Histogram
	// VADFallbacks counts switches to the energy detector, by "cause".
	VADFallbacks metric.Int64Counter
	// SegmentsFinalized counts segments handed to the dispatcher, by "reason".
	SegmentsFinalized metric.Int64Counter
	// SegmentsDiscarded counts buffers dropped below the voice floor, by "reason".
	SegmentsDiscarded metric.Int64Counter
	// ActiveSessions is the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Dispatch.

	STTDuration     metric.Float64Histogram
	EnhanceDuration metric.Float64Histogram
	// EnhanceFailures counts enhancement calls whose raw text was kept, by "task".
	EnhanceFailures metric.Int64Counter
	// ProviderRequests counts recognizer calls by "provider", "kind" and "status".
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter
	// DispatchInFlight is the number of segments submitted but not yet released.
	DispatchInFlight metric.Int64UpDownCounter
	// DispatchHeld is the number of finished segments held back behind an
	// earlier one that is still being recognized.
	DispatchHeld metric.Int64UpDownCounter

	// Delivery.

	// DeliveryEvents counts released events by "status": ok, empty or failed.
	DeliveryEvents metric.Int64Counter
	InjectDuration metric.Float64Histogram
	// InjectFailures counts injections that did not reach the window, by "strategy".
	InjectFailures metric.Int64Counter

	// HTTPRequestDuration is the control API latency by "method", "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets spans a few milliseconds of VAD inference up to the tens of
// seconds a long clip can spend in a remote recognizer.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// instruments collects the first instrument creation error so NewMetrics can
// stay a flat list.
type instruments struct {
	m   metric.Meter
	err error
}

func (b *instruments) seconds(name, desc string) metric.Float64Histogram {
	h, err := b.m.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if b.err == nil {
		b.err = err
	}
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return c
}

func (b *instruments) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	if b.err == nil {
		b.err = err
	}
	return g
}

// NewMetrics creates the Dictum instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{m: mp.Meter(meterName)}
	met := &Metrics{
		VADDuration:       b.seconds("dictum.vad.duration", "Voice activity detection latency per audio chunk."),
		VADFallbacks:      b.counter("dictum.vad.fallbacks", "Switches from the neural VAD to the energy detector."),
		SegmentsFinalized: b.counter("dictum.segments.finalized", "Speech segments dispatched, by finalization reason."),
		SegmentsDiscarded: b.counter("dictum.segments.discarded", "Buffers discarded below the voice floor."),
		ActiveSessions:    b.gauge("dictum.active_sessions", "Live capture sessions."),

		STTDuration:      b.seconds("dictum.stt.duration", "Speech recognition latency per segment."),
		EnhanceDuration:  b.seconds("dictum.enhance.duration", "Language model enhancement latency per segment."),
		EnhanceFailures:  b.counter("dictum.enhance.failures", "Enhancements that failed and kept the recognized text."),
		ProviderRequests: b.counter("dictum.provider.requests", "Provider calls by provider, kind and status."),
		ProviderErrors:   b.counter("dictum.provider.errors", "Provider errors by provider and kind."),
		DispatchInFlight: b.gauge("dictum.dispatch.in_flight", "Segments submitted and not yet released."),
		DispatchHeld:     b.gauge("dictum.dispatch.held", "Finished segments waiting for an earlier segment."),

		DeliveryEvents: b.counter("dictum.delivery.events", "Delivery events released, by status."),
		InjectDuration: b.seconds("dictum.inject.duration", "Time spent typing text into the active window."),
		InjectFailures: b.counter("dictum.inject.failures", "Injections that did not reach the active window."),

		HTTPRequestDuration: b.seconds("dictum.http.request.duration", "Control API latency by method and route."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] bound to the global
// meter provider. It panics if the instruments cannot be created.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func one(key, value string) metric.AddOption {
	return metric.WithAttributes(attribute.String(key, value))
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordSegment counts a dispatched segment.
func (m *Metrics) RecordSegment(ctx context.Context, reason string) {
	m.SegmentsFinalized.Add(ctx, 1, one("reason", reason))
}

// RecordDiscard counts a buffer dropped by the voice floor.
func (m *Metrics) RecordDiscard(ctx context.Context, reason string) {
	m.SegmentsDiscarded.Add(ctx, 1, one("reason", reason))
}

// RecordVADFallback counts a switch to the energy detector. cause is
// "engine_unavailable" when the neural engine never loaded and "model_error"
// when it failed mid-session.
func (m *Metrics) RecordVADFallback(ctx context.Context, cause string) {
	m.VADFallbacks.Add(ctx, 1, one("cause", cause))
}

// RecordEnhanceFailure counts an enhancement that fell back to raw text.
func (m *Metrics) RecordEnhanceFailure(ctx context.Context, task string) {
	m.EnhanceFailures.Add(ctx, 1, one("task", task))
}

// RecordDelivery counts a released delivery event.
func (m *Metrics) RecordDelivery(ctx context.Context, status string) {
	m.DeliveryEvents.Add(ctx, 1, one("status", status))
}

// RecordInjectFailure counts a failed injection.
func (m *Metrics) RecordInjectFailure(ctx context.Context, strategy string) {
	m.InjectFailures.Add(ctx, 1, one("strategy", strategy))
}
