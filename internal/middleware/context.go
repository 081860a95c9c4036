// Package middleware provides the HTTP middleware chain: request
// tracing, authentication, CORS, rate limiting and access logging.
package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/madfam-io/madlab/internal/app/auth"
)

type contextKey string

const (
	traceIDKey  contextKey = "trace_id"
	identityKey contextKey = "identity"
)

// NewTraceID generates a request trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID attaches a trace id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the request trace id, or empty when unset.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithIdentity attaches the authenticated principal to the context.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the authenticated principal, if any.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}
