// Package logging provides the structured logger used by every kernel component.
package logging

// Logger defines the interface for kernel logging.
// Every component logs with key-value pairs so output stays parseable
// regardless of the backend:
//
//	logger.Info("Module started", "module", "billing", "startup", 12*time.Millisecond)
//
// The interface is compatible with slog, zerolog, zap and friends; the
// kernel ships a zerolog-backed implementation and a no-op logger.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
