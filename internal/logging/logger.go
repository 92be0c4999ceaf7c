// Package logging defines a minimal structured-logging interface used across
// the project, with slog and zap implementations.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Info(ctx, "starting server", "addr", addr, "mode", mode)
type Logger interface {
	// Debug logs verbose diagnostics.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}

// Audit writes a security-relevant event through l. Every audit line carries
// audit=true, the event name and the outcome.
func Audit(ctx context.Context, l Logger, event, outcome string, args ...any) {
	kv := append([]any{"audit", true, "event", event, "outcome", outcome}, args...)
	l.Info(ctx, "audit", kv...)
}

// NopLogger discards everything.
type NopLogger struct{}

func (n NopLogger) Debug(context.Context, string, ...any) {}
func (n NopLogger) Info(context.Context, string, ...any)  {}
func (n NopLogger) Warn(context.Context, string, ...any)  {}
func (n NopLogger) Error(context.Context, string, ...any) {}
func (n NopLogger) With(...any) Logger                    { return n }
