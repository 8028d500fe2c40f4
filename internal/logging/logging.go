// Package logging builds the agent's process-wide slog.Logger.
//
// Matches the construction the teacher repo uses in runtime/lexer and
// cli/internal/parser: a text handler to stderr with the top-level timestamp
// key stripped for quieter default output (the level key is kept), promoted
// to slog.LevelDebug when asked.
package logging

import (
	"log/slog"
	"os"
)

// New returns a text-handler logger writing to stderr.
func New(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})
	return slog.New(handler)
}
