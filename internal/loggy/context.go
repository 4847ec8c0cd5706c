package loggy

import (
	"context"

	"github.com/tildaslashalef/fieldsync/internal/ulid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	cycleIDKey contextKey = "cycle_id"
)

// FromContext returns the logger stored in ctx, or the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*Logger); ok && logger != nil {
			return logger
		}
	}
	return GetGlobalLogger()
}

// WithLogger returns a new context carrying logger
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// CycleID returns the sync cycle id stored in ctx
func CycleID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(cycleIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCycleID stores a sync cycle id in ctx and tags the context logger with it.
// An empty id generates a new one.
func WithCycleID(ctx context.Context, logger *Logger, id string) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id == "" {
		id = ulid.CycleID()
	}
	ctx = context.WithValue(ctx, cycleIDKey, id)
	return WithLogger(ctx, logger.With("cycle_id", id)), id
}
