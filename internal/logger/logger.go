// Package logger wraps slog with the source's colored-console-by-default,
// JSON-in-production handler selection.
package logger

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger is a thin wrapper adding a couple of domain-scoped field
// helpers on top of *slog.Logger.
type Logger struct {
	*slog.Logger
}

// New builds a Logger. format "json" selects slog's JSON handler (for
// log aggregation); anything else selects tint's colored console
// handler (for local development).
func New(level, format string) *Logger {
	logLevel := parseLevel(level)

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// WithWorkflow adds the workflow name/function to the logger context.
func (l *Logger) WithWorkflow(name, functionName string) *Logger {
	return &Logger{Logger: l.With("workflow", name, "functionName", functionName)}
}

// WithSourceFile adds the source file path to the logger context.
func (l *Logger) WithSourceFile(path string) *Logger {
	return &Logger{Logger: l.With("sourceFile", path)}
}

func parseLevel(level string) slog.Level {
	switch level {
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
