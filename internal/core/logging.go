package core

import (
	"log/slog"
	"os"
	"strings"

	"polly/internal/types"
)

// NewLogger builds the application-wide structured logger: JSON output on
// stdout (CloudWatch-friendly) with the level taken from configuration.
func NewLogger(level, service, environment string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	})
	return slog.New(handler).With(
		"service", service,
		"env", environment,
	)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// slogAdapter bridges *slog.Logger to the types.Logger interface used by the
// domain packages.
type slogAdapter struct {
	l *slog.Logger
}

var _ types.Logger = (*slogAdapter)(nil)

// NewLoggerAdapter wraps an *slog.Logger as a types.Logger.
func NewLoggerAdapter(l *slog.Logger) types.Logger {
	return &slogAdapter{l: l}
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }

func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{l: a.l.With(args...)}
}
