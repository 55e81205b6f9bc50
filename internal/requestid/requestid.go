// Package requestid propagates a correlation ID through webhook handling,
// dispatch and delivery so one inbound event can be followed in the logs.
package requestid

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header carrying the request ID in and out of the server.
const Header = "X-Request-ID"

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// Ensure returns ctx unchanged when it already carries an ID, otherwise a
// context with a fresh one.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return ctx, id
	}
	return New(ctx)
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Logger returns logger with the context's request ID attached.
func Logger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	return logger.With().Str("request_id", FromContext(ctx)).Logger()
}
