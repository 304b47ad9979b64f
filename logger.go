package pivotgo

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with pivotgo-specific context.
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

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithRun adds a run ID field to the logger, tagging every line of one cycle.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("run_id", runID),
	}
}

// WithIndexer adds the indexer name to the logger.
func (l *Logger) WithIndexer(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("indexer", name),
	}
}

// WithPageSize adds the current page size to the logger.
func (l *Logger) WithPageSize(size int) *Logger {
	return &Logger{
		Logger: l.Logger.With("page_size", size),
	}
}

// LogStateChange logs a state machine transition.
func (l *Logger) LogStateChange(ctx context.Context, from, to State) {
	l.DebugContext(ctx, "state changed",
		"from", from.String(),
		"to", to.String(),
	)
}

// LogSearch logs a search phase attempt.
func (l *Logger) LogSearch(ctx context.Context, pageSize, buckets int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"page_size", pageSize,
			"took", took,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"page_size", pageSize,
			"buckets", buckets,
			"took", took,
		)
	}
}

// LogWrite logs a write phase attempt.
func (l *Logger) LogWrite(ctx context.Context, ops, failed int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "write failed",
			"ops", ops,
			"took", took,
			"error", err,
		)
	} else if failed > 0 {
		l.WarnContext(ctx, "write completed with item failures",
			"ops", ops,
			"failed", failed,
			"took", took,
		)
	} else {
		l.DebugContext(ctx, "write completed",
			"ops", ops,
			"took", took,
		)
	}
}

// LogCheckpoint logs a checkpoint persistence attempt.
func (l *Logger) LogCheckpoint(ctx context.Context, seq uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"seq", seq,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint persisted",
			"seq", seq,
		)
	}
}

// LogPageShrink logs a page-size halving triggered by resource pressure.
func (l *Logger) LogPageShrink(ctx context.Context, from, to int) {
	l.WarnContext(ctx, "page size reduced under resource pressure",
		"from", from,
		"to", to,
	)
}

// LogRunEnd logs the outcome of a finished run.
func (l *Logger) LogRunEnd(ctx context.Context, pages int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "run failed",
			"pages", pages,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "run completed",
			"pages", pages,
		)
	}
}
