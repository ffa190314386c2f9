// Package logging configures structured logging via log/slog.
//
// The feeder runs both as a one-shot CLI and as a long-lived daemon; the
// same Setup is used for both, switching between human-readable text and
// machine-parseable JSON output. The status API uses chi's RequestID
// middleware, and FromContext picks that ID up so API log lines can be
// correlated per request.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup configures the global slog logger.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
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

// FromContext returns a logger enriched with request context.
//
// Under the status server the returned logger carries the chi request ID;
// everywhere else it is the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// ForJob returns a logger scoped to one job run. Every stage of a run logs
// through this so a single grep on job or run_id reconstructs the run.
//
//	log := logging.ForJob(ctx, job.Name, runID)
//	log.Info("file selected", "path", path)
func ForJob(ctx context.Context, job, runID string) *slog.Logger {
	return FromContext(ctx).With("job", job, "run_id", runID)
}

// WithFields returns a logger with additional structured fields attached.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
