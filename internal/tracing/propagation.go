package tracing

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// TraceHeader carries a caller supplied trace ID into the gateway and back
// out on the response.
const TraceHeader = "X-Trace-Id"

// FromHeader starts a request context: the trace ID comes from TraceHeader
// when the caller sent one, and every request gets a fresh request ID.
func FromHeader(ctx context.Context, h http.Header) context.Context {
	traceID := h.Get(TraceHeader)
	if traceID == "" {
		traceID = NewTraceID()
	}
	return WithRequestID(WithTraceID(ctx, traceID), NewTraceID())
}

// LoggerFromContext returns base annotated with the tracing values in ctx
// and, when a span is recording, its OpenTelemetry span ID.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return base
	}

	tc := FieldsFrom(ctx)
	span := trace.SpanContextFromContext(ctx)
	if tc == (Fields{}) && !span.IsValid() {
		return base
	}

	fields := base.With()
	for _, f := range []struct{ key, value string }{
		{"trace_id", tc.TraceID},
		{"request_id", tc.RequestID},
		{"run_id", tc.RunID},
		{"conversation_id", tc.ConversationID},
	} {
		if f.value != "" {
			fields = fields.Str(f.key, f.value)
		}
	}
	if tc.RunNumber > 0 {
		fields = fields.Int("run_number", tc.RunNumber)
	}
	if span.IsValid() {
		fields = fields.Str("span_id", span.SpanID().String())
	}
	return fields.Logger()
}

// Detach returns a background context that carries the tracing values and
// active span of ctx but none of its deadline or cancellation. Runs outlive
// the request that started them.
func Detach(ctx context.Context) context.Context {
	detached := WithFields(context.Background(), FieldsFrom(ctx))
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		detached = trace.ContextWithSpan(detached, span)
	}
	return detached
}
