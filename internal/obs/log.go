// Package obs holds the logging and metrics plumbing shared by the service.
package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the process logger.  Production defaults to JSON at info,
// everything else to text at debug; level and format override those.
func NewLogger(env, level, format string) *slog.Logger {
	return newLogger(os.Stdout, env, level, format)
}

func newLogger(w io.Writer, env, level, format string) *slog.Logger {
	prod := env == "production"

	lvl := slog.LevelDebug
	if prod {
		lvl = slog.LevelInfo
	}
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}

	useJSON := prod
	switch strings.ToLower(format) {
	case "json":
		useJSON = true
	case "text":
		useJSON = false
	}

	if useJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard is a logger that drops everything.  Used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
