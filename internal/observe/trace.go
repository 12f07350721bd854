package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the application tracer.
const tracerName = "github.com/MrWong99/singalong"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records err on span (when non-nil) and ends it. Intended for use
// with a named error return:
//
//	ctx, span := observe.StartSpan(ctx, "analysis.decode")
//	defer func() { observe.EndSpan(span, err) }()
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] tagged with the [CorrelationID]
// of ctx as trace_id, plus span_id when the span has one. Without an active
// trace the default logger is returned unchanged.
func Logger(ctx context.Context) *slog.Logger {
	cid := CorrelationID(ctx)
	if cid == "" {
		return slog.Default()
	}
	l := slog.Default().With(slog.String("trace_id", cid))
	if sc := trace.SpanContextFromContext(ctx); sc.HasSpanID() {
		l = l.With(slog.String("span_id", sc.SpanID().String()))
	}
	return l
}
