// Package logger contains the log function prototype shared by all components.
package logger

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
)

// Level is a log level.
type Level int

// Log levels.
const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarn
	LevelError
)

// Func is the prototype of the log function.
type Func func(level Level, format string, args ...interface{})

// Default writes messages with the standard library logger.
func Default(_ Level, format string, args ...interface{}) {
	log.Printf(format, args...)
}

// Discard drops every message.
func Discard(_ Level, _ string, _ ...interface{}) {}

// New returns a structured logger with the given level and format.
// level: "debug", "info", "warn", "error" (default "info").
// format: "json" or "text" (default "json").
func New(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	if strings.ToLower(format) == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// FromSlog returns a Func that writes into l.
func FromSlog(l *slog.Logger) Func {
	return func(level Level, format string, args ...interface{}) {
		lvl := slogLevel(level)
		if !l.Enabled(context.Background(), lvl) {
			return
		}
		l.Log(context.Background(), lvl, fmt.Sprintf(format, args...))
	}
}
