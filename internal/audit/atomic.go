package audit

import (
	"context"
	"sync/atomic"
)

// AtomicLogger wraps a Logger with an atomic pointer for lock-free
// hot-reload. Middleware captures the wrapper once; Swap() replaces the
// inner logger and all subsequent calls use the new one without
// re-wiring consumers.
type AtomicLogger struct {
	current atomic.Pointer[Logger]
}

var _ Logger = (*AtomicLogger)(nil)

var defaultNoopLogger Logger = &noopLogger{}

// NewAtomicLogger creates a new AtomicLogger wrapping the given logger.
// A nil logger is replaced with a no-op delegate.
func NewAtomicLogger(logger Logger) *AtomicLogger {
	if logger == nil {
		logger = NewNoopLogger()
	}
	a := &AtomicLogger{}
	a.current.Store(&logger)
	return a
}

// Swap atomically replaces the inner logger and returns the previous
// one. The caller closes the previous logger if needed.
func (a *AtomicLogger) Swap(newLogger Logger) Logger {
	if newLogger == nil {
		newLogger = NewNoopLogger()
	}
	old := a.current.Swap(&newLogger)
	if old != nil {
		return *old
	}
	return nil
}

// Load returns the current inner logger.
func (a *AtomicLogger) Load() Logger {
	if ptr := a.current.Load(); ptr != nil {
		return *ptr
	}
	return defaultNoopLogger
}

// LogEvent delegates to the current inner logger.
func (a *AtomicLogger) LogEvent(ctx context.Context, event *Event) {
	a.Load().LogEvent(ctx, event)
}

// Close closes the current inner logger.
func (a *AtomicLogger) Close() error {
	return a.Load().Close()
}
