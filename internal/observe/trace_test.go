package observe

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory tracer as the global provider for the
// rest of the test. Tests using it must not run in parallel.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger for the rest of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func spanAttrs(s tracetest.SpanStub) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestStartSegmentSpan_Attributes(t *testing.T) {
	exp := recordSpans(t)

	ctx, span := StartSegmentSpan(context.Background(), SegmentSpan{
		SessionID: "cs1p4b2",
		Seq:       7,
		Reason:    "max_duration",
		Audio:     30 * time.Second,
		Voiced:    12500 * time.Millisecond,
	})
	if got := SessionID(ctx); got != "cs1p4b2" {
		t.Errorf("SessionID(ctx) = %q, want cs1p4b2", got)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "dictum.segment" {
		t.Errorf("span name = %q, want dictum.segment", spans[0].Name)
	}
	attrs := spanAttrs(spans[0])
	if got := attrs[SegmentSeqKey].AsInt64(); got != 7 {
		t.Errorf("%s = %d, want 7", SegmentSeqKey, got)
	}
	if got := attrs[SegmentReasonKey].AsString(); got != "max_duration" {
		t.Errorf("%s = %q, want max_duration", SegmentReasonKey, got)
	}
	if got := attrs[SegmentAudioKey].AsFloat64(); got != 30 {
		t.Errorf("%s = %v, want 30", SegmentAudioKey, got)
	}
	if got := attrs[SegmentVoicedKey].AsFloat64(); got != 12.5 {
		t.Errorf("%s = %v, want 12.5", SegmentVoicedKey, got)
	}
	if got := attrs[SessionIDKey].AsString(); got != "cs1p4b2" {
		t.Errorf("%s = %q, want cs1p4b2", SessionIDKey, got)
	}
}

func TestStartSegmentSpan_WithoutSession(t *testing.T) {
	exp := recordSpans(t)

	_, span := StartSegmentSpan(context.Background(), SegmentSpan{Seq: 1, Reason: "pause"})
	span.End()

	attrs := spanAttrs(exp.GetSpans()[0])
	if _, ok := attrs[SessionIDKey]; ok {
		t.Errorf("segment span carries %s without a session", SessionIDKey)
	}
}

func TestStartSessionSpan_ParentsNestedSpans(t *testing.T) {
	exp := recordSpans(t)

	ctx, session := StartSessionSpan(context.Background(), "cs9", "manual")
	_, seg := StartSegmentSpan(ctx, SegmentSpan{SessionID: SessionID(ctx), Seq: 1, Reason: "manual"})
	seg.End()
	session.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	segSpan, sessSpan := spans[0], spans[1]
	if sessSpan.Name != "dictum.session" {
		t.Errorf("session span name = %q", sessSpan.Name)
	}
	if got := spanAttrs(sessSpan)[SessionModeKey].AsString(); got != "manual" {
		t.Errorf("%s = %q, want manual", SessionModeKey, got)
	}
	if segSpan.Parent.SpanID() != sessSpan.SpanContext.SpanID() {
		t.Error("segment span is not a child of the session span")
	}
	if segSpan.SpanContext.TraceID() != sessSpan.SpanContext.TraceID() {
		t.Error("segment span left the session trace")
	}
}

func TestLogger_TagsSegmentContext(t *testing.T) {
	recordSpans(t)
	buf := captureLogs(t)

	ctx, span := StartSegmentSpan(context.Background(), SegmentSpan{SessionID: "cs1p4b2", Seq: 42, Reason: "pause"})
	defer span.End()
	Logger(ctx).Info("recognized")

	for _, want := range []string{"session_id=cs1p4b2", "seq=42", "trace_id=", "span_id="} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Errorf("log line missing %q: %s", want, buf.String())
		}
	}
}

func TestLogger_PlainContext(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("idle")

	for _, absent := range []string{"session_id", "seq=", "trace_id"} {
		if bytes.Contains(buf.Bytes(), []byte(absent)) {
			t.Errorf("log line has %q without a session or span: %s", absent, buf.String())
		}
	}
}

func TestCorrelationID_FollowsTrace(t *testing.T) {
	recordSpans(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	ctx, session := StartSessionSpan(context.Background(), "cs1", "continuous")
	defer session.End()
	segCtx, seg := StartSegmentSpan(ctx, SegmentSpan{Seq: 1})
	defer seg.End()

	id := CorrelationID(ctx)
	if len(id) != 32 {
		t.Fatalf("CorrelationID = %q, want 32 hex characters", id)
	}
	if got := CorrelationID(segCtx); got != id {
		t.Errorf("segment CorrelationID = %q, want the session's %q", got, id)
	}
}
