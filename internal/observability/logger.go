// Package observability provides structured logging for hlsabr.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/hlsabr/internal/config"
)

// LevelTrace sits below debug and is used for per-sample logging.
const LevelTrace = slog.Level(-8)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	// SessionIDKey is the context key for playback session IDs.
	SessionIDKey contextKey = "session_id"
	// loggerKey is the context key for the logger.
	loggerKey contextKey = "logger"
)

// NewLogger creates a new slog.Logger based on the provided configuration.
// The logger supports JSON and text formats with configurable log levels.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided writer.
// Struct fields tagged masq:"secret" and strings containing any of
// cfg.RedactContaining are redacted.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	redactOpts := []masq.Option{masq.WithTag("secret")}
	for _, marker := range cfg.RedactContaining {
		redactOpts = append(redactOpts, masq.WithContain(marker))
	}
	redact := masq.New(redactOpts...)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					return slog.String(slog.LevelKey, "TRACE")
				}
				return a
			}
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if cfg.TimeFormat != "" {
					if t, ok := a.Value.Any().(time.Time); ok {
						return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
					}
				}
				return a
			}
			return redact(groups, a)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSessionID adds a playback session ID to the logger.
func WithSessionID(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String("session_id", sessionID))
}

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation adds an operation name to the logger for tracking specific operations.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext extracts a logger from the context.
// If no logger is found, returns the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// SessionIDFromContext extracts a session ID from the context.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithSessionID adds a session ID to the context.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// SetDefault sets the provided logger as the default slog logger.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// TimedOperationWithError logs the start and end of an operation with its
// duration. The error pointer is read when the returned function runs.
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.DebugContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
			return
		}
		logger.InfoContext(ctx, "operation completed",
			slog.String("operation", operation),
			slog.Duration("duration", duration),
		)
	}
}
