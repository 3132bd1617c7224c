package postgresengine

import (
	"errors"
	"fmt"
	"time"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

// Logger interface for SQL query logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option defines a functional option for configuring an Engine.
type Option func(*Engine) error

// WithEntriesTable sets the name of the entries table.
func WithEntriesTable(tableName string) Option {
	return func(e *Engine) error {
		if tableName == "" {
			return ErrEmptyTableName
		}

		e.entriesTable = tableName

		return nil
	}
}

// WithOffsetsTable sets the name of the group offsets table.
func WithOffsetsTable(tableName string) Option {
	return func(e *Engine) error {
		if tableName == "" {
			return ErrEmptyTableName
		}

		e.offsetsTable = tableName

		return nil
	}
}

// WithPollInterval sets how often a blocking read looks for new entries.
func WithPollInterval(interval time.Duration) Option {
	return func(e *Engine) error {
		if interval <= 0 {
			return errors.Join(jstreams.ErrConfiguration, fmt.Errorf("poll interval must be positive, got %s", interval))
		}

		e.pollInterval = interval

		return nil
	}
}

// WithLogger sets the logger for the Engine.
//
// Debug level: SQL statements with execution timing (development use).
func WithLogger(logger Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}
