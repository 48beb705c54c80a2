package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/dictum/internal/dispatch"
	"github.com/MrWong99/dictum/internal/enhance"
	"github.com/MrWong99/dictum/internal/observe"
	"github.com/MrWong99/dictum/pkg/provider/stt"
	sttmock "github.com/MrWong99/dictum/pkg/provider/stt/mock"
)

// readMetrics returns metrics backed by a ManualReader and a function that
// reads the int64 sum named name, restricted to points carrying attrs.
func readMetrics(t *testing.T) (*observe.Metrics, func(name string, attrs ...attribute.KeyValue) int64) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, func(name string, attrs ...attribute.KeyValue) int64 {
		t.Helper()
		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("Collect: %v", err)
		}
		var total int64
		for _, sm := range rm.ScopeMetrics {
			for _, met := range sm.Metrics {
				if met.Name != name {
					continue
				}
				sum, ok := met.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("%s is %T, want an int64 sum", name, met.Data)
				}
			points:
				for _, dp := range sum.DataPoints {
					for _, kv := range attrs {
						if v, ok := dp.Attributes.Value(kv.Key); !ok || v.Emit() != kv.Value.Emit() {
							continue points
						}
					}
					total += dp.Value
				}
			}
		}
		return total
	}
}

func TestDispatcher_HeldGaugeTracksOutOfOrderCompletions(t *testing.T) {
	t.Parallel()

	first := make(chan struct{})
	rec := &sttmock.Recognizer{RecognizeFunc: func(ctx context.Context, req stt.Request) (*stt.Result, error) {
		if sampleCount(req.Audio) == 1600 {
			<-first
		}
		return &stt.Result{Text: "words"}, nil
	}}
	m, read := readMetrics(t)
	out := newCollector()
	d := dispatch.New(rec, out.deliver, dispatch.WithMetrics(m))

	d.Submit(seg(1600))
	d.Submit(seg(3200))
	d.Submit(seg(4800))

	deadline := time.Now().Add(waitTimeout)
	for read("dictum.dispatch.held") != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("dictum.dispatch.held = %d, want 2 while the first segment is outstanding", read("dictum.dispatch.held"))
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(first)
	for range 3 {
		out.next(t)
	}
	closeDispatcher(t, d)

	if got := read("dictum.dispatch.held"); got != 0 {
		t.Errorf("dictum.dispatch.held = %d after release, want 0", got)
	}
	if got := read("dictum.delivery.events", attribute.String("status", "ok")); got != 3 {
		t.Errorf("ok deliveries = %d, want 3", got)
	}
}

func TestDispatcher_CountsEnhancementFailures(t *testing.T) {
	t.Parallel()

	rec := &sttmock.Recognizer{Result: &stt.Result{Text: "keep me"}}
	m, read := readMetrics(t)
	out := newCollector()
	d := dispatch.New(rec, out.deliver,
		dispatch.WithMetrics(m),
		dispatch.WithEnhancer(&fakeEnhancer{err: errors.New("ollama down")}),
		dispatch.WithSettings(dispatch.Settings{Language: "auto", Enhance: true, Task: enhance.TaskTranslate}),
	)

	d.Submit(seg(1600))
	d.Submit(seg(1600))
	out.next(t)
	out.next(t)
	closeDispatcher(t, d)

	if got := read("dictum.enhance.failures", attribute.String("task", "translate")); got != 2 {
		t.Errorf("enhance failures = %d, want 2", got)
	}
	if got := read("dictum.provider.requests", attribute.String("kind", "stt"), attribute.String("status", "ok")); got != 2 {
		t.Errorf("stt ok requests = %d, want 2", got)
	}
}
