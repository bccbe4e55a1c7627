package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for relay and room spans.
const tracerName = "github.com/eikq/arcanum"

// Span attribute keys shared by the relay and room packages.
var (
	AttrConn = attribute.Key("arcanum.conn")
	AttrKind = attribute.Key("arcanum.kind")
	AttrRoom = attribute.Key("arcanum.room")
)

// Tracer returns the Arcanum tracer from the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the Arcanum tracer. The caller must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// MessageSpan starts the span covering one inbound wire message from decode
// through hub dispatch, tagged with the message kind and connection.
func MessageSpan(ctx context.Context, kind, connID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "relay.message",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrKind.String(kind),
			AttrConn.String(connID),
		),
	)
}

// CorrelationID returns the active trace ID, or "" without a recording span.
// It doubles as the correlation identifier in logs and response headers.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with trace_id and span_id when
// ctx carries an active span, and unchanged otherwise.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
