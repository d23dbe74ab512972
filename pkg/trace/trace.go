package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

const headerName = "X-Trace-Id"

// HeaderName returns the HTTP header used to propagate the trace id.
func HeaderName() string {
	return headerName
}

// New returns a fresh trace id.
func New() string {
	return uuid.NewString()
}

// WithContext stores the trace id on the context.
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// FromContext returns the trace id, or "" if none was set.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
