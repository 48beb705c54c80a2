package observe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Resource attribute keys describing how this daemon was configured.
const (
	RecognizerKey = attribute.Key("dictum.recognizer")
	VADEngineKey  = attribute.Key("dictum.vad.engine")
	CaptureKey    = attribute.Key("dictum.capture.backend")
	InjectionKey  = attribute.Key("dictum.injection.strategy")
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName defaults to "dictum".
	ServiceName    string
	ServiceVersion string

	// Recognizer, VAD, Capture and Injection name the configured backends.
	// Empty values are left off the resource.
	Recognizer string
	VAD        string
	Capture    string
	Injection  string

	// Registerer receives the Prometheus collector. Nil uses
	// [prometheus.DefaultRegisterer], which the /metrics handler serves.
	Registerer prometheus.Registerer

	// Reader is an extra metric reader, used by tests to inspect what the
	// Prometheus exporter would see.
	Reader sdkmetric.Reader

	// TraceExporter receives finished spans in batches. Nil records spans
	// without exporting them.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry owns the SDK providers built by [InitProvider].
type Telemetry struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	Resource       *resource.Resource
}

// InitProvider builds a meter provider exporting to Prometheus and a tracer
// provider, both tagged with a resource naming the service and its
// configured backends. Call [Telemetry.SetGlobal] to make them the process
// defaults and [Telemetry.Shutdown] on exit.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dictum"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	for k, v := range map[attribute.Key]string{
		RecognizerKey: cfg.Recognizer,
		VADEngineKey:  cfg.VAD,
		CaptureKey:    cfg.Capture,
		InjectionKey:  cfg.Injection,
	} {
		if v != "" {
			attrs = append(attrs, k.String(v))
		}
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, err
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, err
	}
	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(promExp)}
	if cfg.Reader != nil {
		mpOpts = append(mpOpts, sdkmetric.WithReader(cfg.Reader))
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}

	return &Telemetry{
		MeterProvider:  sdkmetric.NewMeterProvider(mpOpts...),
		TracerProvider: sdktrace.NewTracerProvider(tpOpts...),
		Resource:       res,
	}, nil
}

// SetGlobal installs both providers as the OTel globals, which
// [DefaultMetrics] and [Tracer] read.
func (t *Telemetry) SetGlobal() {
	otel.SetMeterProvider(t.MeterProvider)
	otel.SetTracerProvider(t.TracerProvider)
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.TracerProvider.Shutdown(ctx),
		t.MeterProvider.Shutdown(ctx),
	)
}
