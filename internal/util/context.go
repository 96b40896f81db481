package util

import (
	"context"
	"time"
)

type contextKey string

const (
	serviceKey   contextKey = "service"
	startTimeKey contextKey = "start_time"
)

// ContextWithService adds the resolved service name to the context.
func ContextWithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, serviceKey, service)
}

// ServiceFromContext extracts the resolved service name from the context.
func ServiceFromContext(ctx context.Context) string {
	if service, ok := ctx.Value(serviceKey).(string); ok {
		return service
	}
	return ""
}

// ContextWithStartTime adds the request start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, startTimeKey, t)
}

// StartTimeFromContext extracts the request start time from the context.
func StartTimeFromContext(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(startTimeKey).(time.Time)
	return t, ok
}
