// Package logging configures the application-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

// NewRunID generates a per-invocation identifier of the form "req-<uuid>",
// attached to every log line for a single run so interleaved volumes in a
// daemon-mode log stream can be told apart.
func NewRunID() string {
	return "req-" + uuid.NewString()
}

// Setup configures tint-colored, level-filtered structured logging.
// level is one of "debug", "info", "warn", "error" ("" defaults to info).
// When silent is true, output is redirected to w (the configured log file)
// instead of stderr, matching the -s/--silent CLI contract.
func Setup(level string, silent bool, w io.Writer, runID string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	out := io.Writer(os.Stderr)
	if silent {
		out = w
	}

	handler := tint.NewHandler(out, &tint.Options{Level: logLevel})
	return slog.New(handler).With("run_id", runID)
}
