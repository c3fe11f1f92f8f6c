// Package logging provides a small component-scoped wrapper over log/slog.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once    sync.Once
	handler slog.Handler
)

// Configure sets the process-wide log level. Safe to call once at startup;
// subsequent calls are no-ops. Unknown levels fall back to info.
func Configure(level string) {
	once.Do(func() {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLevel(level),
		})
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func rootHandler() slog.Handler {
	if handler == nil {
		Configure(os.Getenv("LOG_LEVEL"))
	}
	return handler
}

// Logger is a component-scoped structured logger.
type Logger struct {
	inner *slog.Logger
}

// NewComponentLogger returns a Logger tagged with the given component name.
func NewComponentLogger(component string) *Logger {
	return &Logger{inner: slog.New(rootHandler()).With("component", component)}
}

// With returns a child logger with additional structured fields attached.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }
