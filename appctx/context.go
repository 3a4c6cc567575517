// Package appctx centralizes the context keys shared across packages so
// handlers, models and maintenance commands agree on how request metadata
// travels through a call.
package appctx

import "context"

type ContextKey string

const (
	ContextKeyActorName     ContextKey = "actorName"
	ContextKeyCorrelationId ContextKey = "correlationId"
)

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}
