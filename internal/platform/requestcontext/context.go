// Package requestcontext carries the acting user and request id through
// service calls.
package requestcontext

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "requestID"
)

// Actor is the authenticated caller.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom returns the caller, or the system actor when none is set.
func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey).(Actor); ok {
		return a
	}
	return Actor{ID: uuid.Nil}
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
