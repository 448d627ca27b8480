// Package logger configures the bridge's process-wide slog handler.
package logger

import (
	"log/slog"
	"os"
)

// Setup builds the root logger that cmd/bridge passes unchanged to
// every engine and installs it as slog's default so stray
// library logging lands in the same stream. ENV=production means the
// bridge is running containerised behind a log shipper and gets
// info-level JSON; anything else is a developer terminal run against a
// local broker and gets debug-level text.
func Setup(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}

	log := slog.New(handler).With("service", "nea-bridge")
	slog.SetDefault(log)
	return log
}
