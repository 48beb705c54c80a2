package observe

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader is the request/response header carrying the correlation ID.
const CorrelationHeader = "X-Correlation-ID"

// unmatchedRoute labels requests that matched no mux pattern.
const unmatchedRoute = "unmatched"

type requestIDKey struct{}

// RequestID returns the correlation ID [Middleware] assigned to the request
// carried by ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder captures the status code written by the handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the overlay feed upgrade to a WebSocket through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

type middleware struct {
	session func() string
}

// WithSessionLookup reports the capture session active when a request
// arrives. Its ID is stored in the request context for [Logger] and set on
// the server span.
func WithSessionLookup(fn func() string) MiddlewareOption {
	return func(m *middleware) { m.session = fn }
}

// Middleware wraps the control API. Every request gets a server span joined
// to any incoming W3C trace context, and a correlation ID: the trace ID when
// tracing is active, else a caller-supplied X-Correlation-ID, else a fresh
// xid. The span and the duration histogram are labelled with the ServeMux
// pattern that matched, not the raw path.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var cfg middleware
	for _, o := range opts {
		o(&cfg)
	}
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cfg.session != nil {
				if id := cfg.session(); id != "" {
					ctx = WithSessionID(ctx, id)
					span.SetAttributes(SessionIDKey.String(id))
				}
			}

			cid := CorrelationID(ctx)
			if cid == "" {
				cid = r.Header.Get(CorrelationHeader)
			}
			if cid == "" {
				cid = xid.New().String()
			}
			ctx = context.WithValue(ctx, requestIDKey{}, cid)
			w.Header().Set(CorrelationHeader, cid)
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			r = r.WithContext(ctx)
			next.ServeHTTP(rec, r)

			// ServeMux records the matched pattern on the request it was given.
			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.Int("status", rec.statusCode),
				),
			)
			span.SetName("HTTP " + route)
			span.SetAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPResponseStatusCode(rec.statusCode),
			)

			Logger(ctx).LogAttrs(ctx, slog.LevelDebug, "request completed",
				slog.String("correlation_id", cid),
				slog.String("route", route),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}
