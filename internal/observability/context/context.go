package context

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type ctxKey string

const (
	requestIDKey     ctxKey = "request_id"
	correlationIDKey ctxKey = "correlation_id"
	runIDKey         ctxKey = "run_id"
	jobKey           ctxKey = "job"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, requestIDKey)
}

// WithRun tags the context with a scheduler job run.
func WithRun(ctx context.Context, job, runID string) context.Context {
	ctx = withString(ctx, jobKey, job)
	return withString(ctx, runIDKey, runID)
}

func RunFromContext(ctx context.Context) (job, runID string) {
	return stringFrom(ctx, jobKey), stringFrom(ctx, runIDKey)
}

func CorrelationIDFromContext(ctx context.Context) string {
	return stringFrom(ctx, correlationIDKey)
}

// EnsureCorrelationID returns a context carrying a correlation id, minting a
// ULID when none is present.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if cid := CorrelationIDFromContext(ctx); cid != "" {
		return ctx, cid
	}
	cid := ulid.Make().String()
	return context.WithValue(ctx, correlationIDKey, cid), cid
}

func withString(ctx context.Context, key ctxKey, value string) context.Context {
	value = strings.TrimSpace(value)
	if ctx == nil || value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
