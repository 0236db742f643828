// Package requestctx carries caller identity across package boundaries.
package requestctx

import (
	"context"
	"strings"
)

type actorContextKey struct{}

type requestIDContextKey struct{}

// Actor identifies who issued a command.
type Actor struct {
	Type string
	ID   string
}

// IsZero reports whether no actor identity is set.
func (a Actor) IsZero() bool {
	return strings.TrimSpace(a.Type) == "" && strings.TrimSpace(a.ID) == ""
}

// WithActor stores the acting identity in context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the acting identity stored in context.
func ActorFromContext(ctx context.Context) Actor {
	if ctx == nil {
		return Actor{}
	}
	actor, _ := ctx.Value(actorContextKey{}).(Actor)
	return actor
}

// WithRequestID stores a request identifier in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey{}, requestID)
}

// RequestIDFromContext returns the request identifier stored in context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDContextKey{}).(string)
	return value
}
