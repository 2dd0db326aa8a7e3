// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
)

// Init builds the shared text logger and calls slog.SetDefault so the stdlib
// log package routes through the same handler. Debug mode lowers the level
// and adds file:line to every record.
func Init(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
