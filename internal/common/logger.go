// logger.go - Structured logging setup shared by the server and the CLIs

package common

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var levelVar = new(slog.LevelVar)

// NewLogger returns a text logger on w tagged with the given component.
// A nil writer logs to stderr.
func NewLogger(w io.Writer, component string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar})
	return slog.New(handler).With("component", component)
}

// SetLogLevel changes the level of every logger built by NewLogger.
// Unknown names fall back to info.
func SetLogLevel(name string) {
	switch strings.ToLower(name) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// DiscardLogger returns a logger that drops everything. Useful for tests.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
