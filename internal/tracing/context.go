// Package tracing carries request and run identity through contexts, into
// log lines and OpenTelemetry spans.
package tracing

import (
	"context"

	"github.com/google/uuid"
)

// Fields identifies the request or run a context belongs to. Zero values
// are unset.
type Fields struct {
	TraceID        string
	RequestID      string
	RunID          string
	ConversationID string
	RunNumber      int
}

type fieldsKey struct{}

// FieldsFrom returns the identity stored in ctx.
func FieldsFrom(ctx context.Context) Fields {
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

// WithFields stores f in ctx, replacing any identity already there.
func WithFields(ctx context.Context, f Fields) context.Context {
	return context.WithValue(ctx, fieldsKey{}, f)
}

func update(ctx context.Context, set func(*Fields)) context.Context {
	f := FieldsFrom(ctx)
	set(&f)
	return WithFields(ctx, f)
}

// NewTraceID returns a random ID suitable for traces and requests.
func NewTraceID() string {
	return uuid.NewString()
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return update(ctx, func(f *Fields) { f.TraceID = id })
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return update(ctx, func(f *Fields) { f.RequestID = id })
}

func WithConversationID(ctx context.Context, id string) context.Context {
	return update(ctx, func(f *Fields) { f.ConversationID = id })
}

func GetTraceID(ctx context.Context) string        { return FieldsFrom(ctx).TraceID }
func GetRequestID(ctx context.Context) string      { return FieldsFrom(ctx).RequestID }
func GetRunID(ctx context.Context) string          { return FieldsFrom(ctx).RunID }
func GetConversationID(ctx context.Context) string { return FieldsFrom(ctx).ConversationID }
func GetRunNumber(ctx context.Context) int         { return FieldsFrom(ctx).RunNumber }

// NewRequestContext gives ctx a fresh trace ID.
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext marks ctx as run number n of conversationID under a fresh
// run ID. The trace and request IDs are kept.
func NewRunContext(ctx context.Context, conversationID string, n int) context.Context {
	return update(ctx, func(f *Fields) {
		f.RunID = uuid.NewString()
		f.ConversationID = conversationID
		f.RunNumber = n
	})
}
