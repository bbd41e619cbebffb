package casefs

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger wraps slog.Logger with casefs-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewConsoleLogger creates a Logger for interactive use: compact, colorized
// lines on stderr. Colors are disabled when stderr is not a terminal.
func NewConsoleLogger(level slog.Level) *Logger {
	return newConsoleLogger(colorable.NewColorable(os.Stderr), level, !isatty.IsTerminal(os.Stderr.Fd()))
}

func newConsoleLogger(w io.Writer, level slog.Level, noColor bool) *Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithArea adds the area path to the logger.
func (l *Logger) WithArea(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("area", path),
	}
}

// LogCreate logs the creation of a storage area.
func (l *Logger) LogCreate(path, kind string, err error) {
	if err != nil {
		l.Error("create failed",
			"area", path,
			"kind", kind,
			"error", err,
		)
	} else {
		l.Info("area created",
			"area", path,
			"kind", kind,
		)
	}
}

// LogMount logs a mount attempt.
func (l *Logger) LogMount(path string, readOnly bool, err error) {
	if err != nil {
		l.Warn("mount failed",
			"area", path,
			"read_only", readOnly,
			"error", err,
		)
	} else {
		l.Debug("mounted",
			"area", path,
			"read_only", readOnly,
		)
	}
}

// LogUnmount logs the teardown of a handle.
func (l *Logger) LogUnmount(path string, readOnly bool, err error) {
	if err != nil {
		l.Error("unmount failed",
			"area", path,
			"read_only", readOnly,
			"error", err,
		)
	} else {
		l.Debug("unmounted",
			"area", path,
			"read_only", readOnly,
		)
	}
}

// LogStaleLock logs a lock file left by a dead process.
func (l *Logger) LogStaleLock(path string, holder *LockHolder, reclaimed bool) {
	args := []any{"area", path, "reclaimed", reclaimed}
	if holder != nil {
		args = append(args, "pid", holder.PID, "host", holder.Host, "since", holder.Created)
	}
	l.Warn("stale lock", args...)
}
