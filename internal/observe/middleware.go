package observe

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// quietPaths are polled by orchestrators and scrapers. Successful hits are
// logged at debug.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

var traceContext = propagation.TraceContext{}

// codeWriter remembers the status code passed to WriteHeader.
type codeWriter struct {
	http.ResponseWriter
	code int
}

func (w *codeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the admin server. Each request runs inside a server
// span continued from incoming W3C trace headers; the trace ID is echoed as
// X-Correlation-ID, and completion is recorded on
// [Metrics.HTTPRequestDuration] and in the log.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()
			ctx, span := requestSpan(r)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			traceContext.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			cw := &codeWriter{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(cw, r.WithContext(ctx))

			span.SetAttributes(semconv.HTTPResponseStatusCode(cw.code))
			finishRequest(ctx, m, r, cw.code, time.Since(began))
		})
	}
}

func requestSpan(r *http.Request) (context.Context, trace.Span) {
	parent := traceContext.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return StartSpan(parent, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
}

func finishRequest(ctx context.Context, m *Metrics, r *http.Request, code int, took time.Duration) {
	if m != nil {
		m.HTTPRequestDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", r.URL.Path),
			attribute.String("status", strconv.Itoa(code)),
		))
	}

	level := slog.LevelInfo
	if code < http.StatusBadRequest && quietPaths[r.URL.Path] {
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "admin request",
		slog.String("trace_id", CorrelationID(ctx)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", code),
		slog.Duration("took", took),
	)
}
