package logger

import (
	"context"

	"github.com/google/uuid"
)

// TraceIDKey is the log field name for the trace id.
const TraceIDKey = "trace_id"

type contextKey string

const traceIDContextKey contextKey = "trace_id"

// GetTraceID gets the trace id from the context.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDContextKey).(string); ok {
		return id
	}
	return ""
}

// SetTraceID sets a trace id on the context.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey, traceID)
}

// EnsureTraceID ensures that a trace id exists in the context.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id := GetTraceID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return SetTraceID(ctx, id), id
}
