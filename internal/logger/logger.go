package logger

import (
	"context"
	"log/slog"
	"os"
)

// contextKey is an unexported type for context keys.
type contextKey string

// TraceIDKey is the context key (and canonical header name) for the Trace ID.
const TraceIDKey contextKey = "X-Trace-ID"

// UserIDKey is the context key for the resolved user identity.
const UserIDKey contextKey = "user_id"

var defaultLogger = slog.New(slog.NewTextHandler(os.Stdout, nil))

// SetDefault replaces the process-wide base logger (used by tests and by
// binaries that want JSON output).
func SetDefault(l *slog.Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// NewContextLogger creates a logger that always includes the trace_id and
// user_id from the context, if present.
func NewContextLogger(ctx context.Context) *slog.Logger {
	lg := defaultLogger
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		lg = lg.With("trace_id", traceID)
	}
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		lg = lg.With("user_id", userID)
	}
	return lg
}

// TraceID returns the trace id carried by ctx, or "".
func TraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// Fatalf logs an error message and exits the program with status code 1.
func Fatalf(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}

// LogCircuitBreakerStateChange logs a structured event whenever a circuit breaker
// transitions between states.
//
// Typical transitions: closed -> open, open -> half-open, half-open -> closed.
func LogCircuitBreakerStateChange(logger *slog.Logger, breakerName string, fromState string, toState string) {
	if logger == nil {
		logger = defaultLogger
	}
	logger.Warn(
		"circuit_breaker_state_change",
		"breaker", breakerName,
		"from", fromState,
		"to", toState,
	)
}
