package helper

import (
	"context"
	"sync"
)

// ContextualLogRecord represents a recorded contextual log call.
type ContextualLogRecord struct {
	Level   string
	Message string
	Args    []any
	Context context.Context
}

// ContextualLoggerSpy is a ContextualLogger implementation that captures contextual logging calls for testing.
type ContextualLoggerSpy struct {
	records []ContextualLogRecord
	mu      sync.Mutex
}

// NewContextualLoggerSpy creates a new ContextualLoggerSpy.
func NewContextualLoggerSpy() *ContextualLoggerSpy {
	return &ContextualLoggerSpy{}
}

func (l *ContextualLoggerSpy) DebugContext(ctx context.Context, msg string, args ...any) {
	l.record(ctx, "debug", msg, args)
}

func (l *ContextualLoggerSpy) InfoContext(ctx context.Context, msg string, args ...any) {
	l.record(ctx, "info", msg, args)
}

func (l *ContextualLoggerSpy) WarnContext(ctx context.Context, msg string, args ...any) {
	l.record(ctx, "warn", msg, args)
}

func (l *ContextualLoggerSpy) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.record(ctx, "error", msg, args)
}

func (l *ContextualLoggerSpy) record(ctx context.Context, level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, ContextualLogRecord{
		Level:   level,
		Message: msg,
		Args:    append([]any{}, args...),
		Context: ctx,
	})
}

// GetRecords returns a copy of all captured records.
func (l *ContextualLoggerSpy) GetRecords() []ContextualLogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]ContextualLogRecord{}, l.records...)
}

// HasRecord reports whether a record with the given level and message was captured.
func (l *ContextualLoggerSpy) HasRecord(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, record := range l.records {
		if record.Level == level && record.Message == msg {
			return true
		}
	}

	return false
}
