package loggy

import (
	"context"
	"fmt"

	"github.com/tildaslashalef/obrasync/internal/ulid"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	passIDKey contextKey = "pass_id"
)

// FromContext retrieves the logger from the context, falling back to the global logger
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return globalLogger
	}

	if logger, ok := ctx.Value(loggerKey).(*Logger); ok && logger != nil {
		return logger
	}

	return globalLogger
}

// WithLogger returns a new context with the logger attached
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// PassID retrieves the sync pass id from the context
func PassID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(passIDKey).(string); ok {
		return id
	}
	return ""
}

// WithPass tags the context, and the logger it carries, with a fresh sync pass id
func WithPass(ctx context.Context, logger *Logger) (context.Context, *Logger) {
	id := ulid.PassID()
	ctx = context.WithValue(ctx, passIDKey, id)
	tagged := logger.With("pass_id", id)
	return WithLogger(ctx, tagged), tagged
}

// WithError adds error details to a logger
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}

	return l.With(
		"error", err.Error(),
		"error_type", fmt.Sprintf("%T", err),
	)
}
