// Package logutil builds the process-wide structured logger.
package logutil

import (
	"io"
	"log/slog"
)

// NewLogger returns a text-handler slog.Logger writing to w at the given level.
// Source position is attached at debug level and below, matching the verbosity
// a runner subprocess needs when diagnosing a stuck decode loop.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}))
}
