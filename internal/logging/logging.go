// Package logging is a thin leveled wrapper over log/slog, adding the
// Trace and Crit levels structured logging in this codebase expects
// beyond slog's own four, and giving syscallapi.Dispatcher (and anything
// else that only needs a Debug method) a Logger without importing slog
// itself.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Level constants extend slog's Debug/Info/Warn/Error with a Trace level
// below Debug and a Crit level above Error.
const (
	LevelTrace slog.Level = -8
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelCrit  slog.Level = 12
)

// LevelString renders a level the way command-line flags and config files
// name it.
func LevelString(l slog.Level) string {
	switch l {
	case LevelTrace:
		return "trace"
	case slog.LevelDebug:
		return "debug"
	case slog.LevelInfo:
		return "info"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	case LevelCrit:
		return "crit"
	default:
		return "unknown"
	}
}

// ParseLevel is LevelString's inverse, for config.Options and CLI flags.
func ParseLevel(s string) (slog.Level, bool) {
	switch s {
	case "trace":
		return LevelTrace, true
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "crit":
		return LevelCrit, true
	default:
		return 0, false
	}
}

// Logger wraps an *slog.Logger with the fixed six-level surface every
// package in this repo logs through.
type Logger struct {
	inner *slog.Logger
}

// New wraps an already-configured slog.Handler.
func New(h slog.Handler) *Logger { return &Logger{inner: slog.New(h)} }

// NewText builds a Logger writing human-readable lines to w, filtering
// anything below level.
func NewText(w *os.File, level slog.Level) *Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Discard builds a Logger that drops every record, for disable_logging.
func Discard() *Logger {
	return New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: LevelCrit + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (l *Logger) Trace(msg string, args ...any) { l.inner.Log(context.Background(), LevelTrace, msg, args...) }
func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// Crit logs at the highest level and terminates the process, matching a
// fatal-configuration-error's severity.
func (l *Logger) Crit(msg string, args ...any) {
	l.inner.Log(context.Background(), LevelCrit, msg, args...)
	os.Exit(1)
}

// With returns a Logger that prepends the given attributes to every
// subsequent record, for per-thread or per-module log context.
func (l *Logger) With(args ...any) *Logger { return &Logger{inner: l.inner.With(args...)} }

// Enabled reports whether a record at level would actually be emitted.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.inner.Enabled(context.Background(), level)
}
