package celldb

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with celldb-specific helpers so operations log
// with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, a default text handler to stderr is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // unreachable level
	}))}
}

// LogImportProgress logs periodic import progress.
func (l *Logger) LogImportProgress(ctx context.Context, rows, retained, skipped int) {
	l.InfoContext(ctx, "import progress",
		"rows", rows,
		"retained", retained,
		"skipped", skipped,
	)
}

// LogImport logs a completed (or failed) import.
func (l *Logger) LogImport(ctx context.Context, rows, retained, skipped int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "import failed",
			"rows", rows,
			"error", err,
		)
		return
	}
	if skipped > 0 {
		l.WarnContext(ctx, "import completed with skipped rows",
			"rows", rows,
			"retained", retained,
			"skipped", skipped,
		)
		return
	}
	l.InfoContext(ctx, "import completed",
		"rows", rows,
		"retained", retained,
	)
}

// LogSearch logs a search narrowing operation.
func (l *Logger) LogSearch(ctx context.Context, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "error", err)
		return
	}
	l.DebugContext(ctx, "search completed", "results", results)
}

// LogSnapshot logs a snapshot save or load.
func (l *Logger) LogSnapshot(ctx context.Context, op string, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot "+op+" failed", "error", err)
		return
	}
	l.InfoContext(ctx, "snapshot "+op+" completed", "records", records)
}
