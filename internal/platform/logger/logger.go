package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. WARDEN_LOG_FORMAT=json switches to JSON
// output for log shippers; the default stays readable on a terminal.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("WARDEN_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if os.Getenv("WARDEN_LOG_FORMAT") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
