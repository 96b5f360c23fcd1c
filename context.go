package goAuthClient

import (
	"context"

	"github.com/google/uuid"
)

type requestIDContextKey struct{}

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "X-Request-ID"

// WithRequestID attaches a correlation id to ctx. Requests issued with ctx
// send it as X-Request-ID instead of a generated one, including the refresh
// call and the replay triggered by a 401.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// RequestIDFromContext returns the id set by WithRequestID, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

func requestIDFor(ctx context.Context) string {
	if id := RequestIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
