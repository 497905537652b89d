package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type callerKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID returns a random trace id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithCaller names the party issuing a mutation, e.g. "cli" or a sync
// account, for logs and the audit trail.
func WithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// Caller extracts the caller name. Returns "" if absent.
func Caller(ctx context.Context) string {
	if v, ok := ctx.Value(callerKey{}).(string); ok {
		return v
	}
	return ""
}
