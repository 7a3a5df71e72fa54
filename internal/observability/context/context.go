package context

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	teamIDKey    contextKey = "team_id"
	actorIDKey   contextKey = "actor_id"
	changeReqKey contextKey = "change_request_id"
)

// WithRequestID stores the inbound HTTP request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the HTTP request id, if any.
func RequestIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, requestIDKey)
}

// WithTeamID stores the team a change request is being processed for.
func WithTeamID(ctx context.Context, teamID string) context.Context {
	return withValue(ctx, teamIDKey, teamID)
}

func TeamIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, teamIDKey)
}

// WithActorID stores the member acting on the request.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return withValue(ctx, actorIDKey, actorID)
}

func ActorIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, actorIDKey)
}

// WithChangeRequestID stores the change request being worked on.
func WithChangeRequestID(ctx context.Context, id string) context.Context {
	return withValue(ctx, changeReqKey, id)
}

func ChangeRequestIDFromContext(ctx context.Context) string {
	return valueFrom(ctx, changeReqKey)
}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func valueFrom(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
