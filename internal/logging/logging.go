// Package logging is the daemon's structured logger.
//
// The teacher's logger/logger.go is a package-level level filter over
// fmt.Printf (SetLevel / IsError / IsWarn / ... / Errorf / Warnf / ...).
// We keep the same level discipline — Error is always enabled, each
// higher level gates on a package-level threshold — but back it with
// log/slog for structured fields instead of formatted strings, the way
// oriys-nova's internal/logging wraps slog rather than hand-rolling
// output. No repo in the pack reaches for a third-party logging library.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Level mirrors the teacher's LogLevel enum.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelInfo:
		return slog.LevelInfo
	default:
		// Debug and Trace both map onto slog's single Debug level;
		// Trace additionally gates via IsTrace below.
		return slog.LevelDebug
	}
}

var (
	current Level = LevelInfo
	base          = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	levelVar      = new(slog.LevelVar)
)

// SetLevel sets the process-wide log level threshold.
func SetLevel(l Level) {
	current = l
	levelVar.Set(l.slogLevel())
}

// IsError reports whether error logging is enabled. Always true, matching
// the teacher (error logging is never silenced).
func IsError() bool { return true }

// IsWarn reports whether warn logging is enabled.
func IsWarn() bool { return current >= LevelWarn }

// IsInfo reports whether info logging is enabled.
func IsInfo() bool { return current >= LevelInfo }

// IsDebug reports whether debug logging is enabled.
func IsDebug() bool { return current >= LevelDebug }

// IsTrace reports whether trace logging is enabled.
func IsTrace() bool { return current >= LevelTrace }

// Logger is a structured logger scoped to one component (CLA, CTRL,
// watchdog, ...), analogous to a per-module prefix in the teacher's
// fmt.Printf calls but carried as structured fields instead of a string
// prefix.
type Logger struct {
	component string
	attrs     []any
}

// For returns a Logger scoped to component.
func For(component string) Logger {
	return Logger{component: component}
}

// With returns a copy of l with additional structured fields attached.
func (l Logger) With(args ...any) Logger {
	next := l
	next.attrs = append(append([]any{}, l.attrs...), args...)
	return next
}

func (l Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	all := append(append([]any{"component", l.component}, l.attrs...), args...)
	base.Log(ctx, level, msg, all...)
}

func (l Logger) Error(msg string, args ...any) {
	if IsError() {
		l.log(context.Background(), slog.LevelError, msg, args...)
	}
}

func (l Logger) Warn(msg string, args ...any) {
	if IsWarn() {
		l.log(context.Background(), slog.LevelWarn, msg, args...)
	}
}

func (l Logger) Info(msg string, args ...any) {
	if IsInfo() {
		l.log(context.Background(), slog.LevelInfo, msg, args...)
	}
}

func (l Logger) Debug(msg string, args ...any) {
	if IsDebug() {
		l.log(context.Background(), slog.LevelDebug, msg, args...)
	}
}

// Trace logs at debug level, gated additionally by IsTrace so it can be
// enabled independently of plain Debug output.
func (l Logger) Trace(msg string, args ...any) {
	if IsTrace() {
		l.log(context.Background(), slog.LevelDebug, msg, append(args, "trace", true)...)
	}
}
