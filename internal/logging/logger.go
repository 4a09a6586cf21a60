// Package logging provides structured logging configuration using log/slog.
//
// Loggers pick up two correlation fields from context: the chi request id
// for the inspection API and the pipeline run id for batch stages.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey struct{}

type runFields struct {
	runID         string
	correlationID string
}

// Setup configures the global slog logger based on level and format.
// Output goes to stderr so stdout stays free for the run summary.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	SetupWriter(os.Stderr, level, format)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string log level to slog.Level.
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

// WithRun returns a context whose loggers carry the run and correlation ids.
func WithRun(ctx context.Context, runID, correlationID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, runFields{runID: runID, correlationID: correlationID})
}

// RunID returns the run id stored by WithRun, or "".
func RunID(ctx context.Context) string {
	if f, ok := ctx.Value(ctxKey{}).(runFields); ok {
		return f.runID
	}
	return ""
}

// FromContext returns a logger enriched with request and run context.
//
// Usage:
//
//	logger := logging.FromContext(ctx)
//	logger.Info("stage finished", "stage", "resolving", "entities", n)
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	// Chi's RequestID middleware stores the ID in context
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if f, ok := ctx.Value(ctxKey{}).(runFields); ok {
		logger = logger.With("run_id", f.runID)
		if f.correlationID != "" {
			logger = logger.With("correlation_id", f.correlationID)
		}
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
