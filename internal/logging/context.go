package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TraceIDFromContext returns the trace ID stored by WithTraceContext, if any
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTraceContext adds a trace ID to the context and returns base extended with it
func WithTraceContext(ctx context.Context, base *Logger) (context.Context, *Logger) {
	if base == nil {
		base = Default()
	}
	traceID := GenerateTraceID()
	l := base.WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// PositionContext creates a logger context for position operations
func PositionContext(base *Logger, symbol, strategy string, entryPrice, amount float64) *Logger {
	return base.WithFields(map[string]interface{}{
		"symbol":      symbol,
		"strategy":    strategy,
		"entry_price": entryPrice,
		"amount_usdt": amount,
	})
}
