// Package reqctx carries the per-event request id and logger through the
// call chain. Log state lives and dies with the request's context.
package reqctx

import (
	"context"
	"log/slog"
	"time"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
)

// WithRequestID returns a context carrying id and a logger tagged with it.
func WithRequestID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, id)
	return context.WithValue(ctx, loggerKey, Logger(ctx).With("request_id", id))
}

// RequestID returns the request id, or "" outside a request.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger replaces the request logger.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, l)
}

// Logger returns the request logger, falling back to slog.Default.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// Since logs how long label took since start.
func Since(ctx context.Context, start time.Time, label string) {
	Logger(ctx).Debug("timing", "step", label, "duration_ms", time.Since(start).Milliseconds())
}
