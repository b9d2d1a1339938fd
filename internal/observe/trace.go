package observe

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/MrWong99/voxrelay"

// StartSpan starts a span on the global tracer provider. End it when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(scopeName).Start(ctx, name, opts...)
}

// CorrelationID is the hex trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is slog.Default carrying the trace_id and span_id of ctx, if any.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}

// Call runs fn, one request of the given kind ("stt" or "tts") for queue item
// id, inside a "<kind>.call" span. Latency and outcome are recorded on m when
// m is non-nil. fn's error is returned unchanged.
func Call(ctx context.Context, m *Metrics, kind, provider string, id uint64, fn func(context.Context) error) error {
	ctx, span := StartSpan(ctx, kind+".call", trace.WithAttributes(
		attribute.String("provider", provider),
		attribute.Int64("item_id", int64(id)),
	))
	defer span.End()

	began := time.Now()
	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if m != nil {
		m.recordCall(ctx, kind, provider, time.Since(began), err)
	}
	return err
}
