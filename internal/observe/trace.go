package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every Dictum span.
const tracerName = "github.com/MrWong99/dictum"

// Span attribute keys shared by the session and segment spans.
const (
	SessionIDKey     = attribute.Key("dictum.session.id")
	SessionModeKey   = attribute.Key("dictum.session.mode")
	SessionCauseKey  = attribute.Key("dictum.session.end_cause")
	SegmentSeqKey    = attribute.Key("dictum.segment.seq")
	SegmentReasonKey = attribute.Key("dictum.segment.reason")
	SegmentAudioKey  = attribute.Key("dictum.segment.audio_seconds")
	SegmentVoicedKey = attribute.Key("dictum.segment.voiced_seconds")
	SegmentStatusKey = attribute.Key("dictum.segment.status")
)

type (
	sessionKey struct{}
	seqKey     struct{}
)

// Tracer returns the Dictum tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the Dictum tracer. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts the span covering one capture session and stores
// id in the returned context for [Logger].
func StartSessionSpan(ctx context.Context, id, mode string) (context.Context, trace.Span) {
	ctx = WithSessionID(ctx, id)
	return StartSpan(ctx, "dictum.session",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(SessionIDKey.String(id), SessionModeKey.String(mode)),
	)
}

// SegmentSpan describes the segment a dispatch span covers.
type SegmentSpan struct {
	SessionID string
	Seq       uint64
	Reason    string
	Audio     time.Duration
	Voiced    time.Duration
}

// StartSegmentSpan starts the span covering recognition and enhancement of
// one segment. The session ID and sequence number are stored in the returned
// context so [Logger] tags every line with them.
func StartSegmentSpan(ctx context.Context, s SegmentSpan) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		SegmentSeqKey.Int64(int64(s.Seq)),
		SegmentReasonKey.String(s.Reason),
		SegmentAudioKey.Float64(s.Audio.Seconds()),
		SegmentVoicedKey.Float64(s.Voiced.Seconds()),
	}
	if s.SessionID != "" {
		ctx = WithSessionID(ctx, s.SessionID)
		attrs = append(attrs, SessionIDKey.String(s.SessionID))
	}
	ctx = context.WithValue(ctx, seqKey{}, s.Seq)
	return StartSpan(ctx, "dictum.segment", trace.WithAttributes(attrs...))
}

// WithSessionID returns a copy of ctx carrying the dictation session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the dictation session ID stored in ctx, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger tagged with whatever ctx carries: the
// session ID, the segment sequence number and the active trace and span IDs.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	if seq, ok := ctx.Value(seqKey{}).(uint64); ok {
		l = l.With(slog.Uint64("seq", seq))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
