// Package logging builds the slog handlers used by the CLI and the server.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps debug|info|warn|error to a slog level; anything else is info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New creates a JSON logger with the specified level and output
func New(level string, output io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// NewText creates a text logger, used for human-readable CLI output
func NewText(level string, output io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// Setup installs a logger as the slog default. format is "json" or "text".
func Setup(level, format string, output io.Writer) *slog.Logger {
	var logger *slog.Logger
	if strings.ToLower(format) == "text" {
		logger = NewText(level, output)
	} else {
		logger = New(level, output)
	}
	slog.SetDefault(logger)
	return logger
}
