// Package enginelog configures the engine's structured logger. Adapted from
// the teacher's internal/logger: a slog text handler fanned out to stdout
// and an optional log file, with a shortened time format.
package enginelog

import (
	"io"
	"log/slog"
	"os"
)

// Log is the package-wide logger. Init replaces it; until Init is called it
// defaults to a plain stdout text handler at Info level so libraries that
// log before configuration still produce output.
var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Init configures the global logger with the given level ("debug", "info",
// "warn", "error") and an optional additional log file.
func Init(level string, logFile string) error {
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

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
	return nil
}

// WithExecution returns a logger scoped to one execution_id so concurrent
// executors in the same process remain distinguishable in logs (spec §5).
func WithExecution(executionID string) *slog.Logger {
	return Log.With("execution_id", executionID)
}
