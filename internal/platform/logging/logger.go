// Package logging configures the application-wide structured logger.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/pscheid92/relaypulse/internal/platform/correlation"
)

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(withCorrelation(handler)))
}

// contextHandler decorates a handler with the correlation id carried by the
// record's context, when there is one.
type contextHandler struct {
	slog.Handler
}

func withCorrelation(inner slog.Handler) slog.Handler {
	return contextHandler{Handler: inner}
}

func (h contextHandler) Handle(ctx context.Context, rec slog.Record) error {
	if id, ok := correlation.ID(ctx); ok {
		rec.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, rec)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}
