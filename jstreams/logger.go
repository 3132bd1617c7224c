package jstreams

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// VerboseEnvVar is the environment variable that switches the default logger from discarding to stdout.
const VerboseEnvVar = "JSTREAMS_VERBOSE"

const (
	logAttrError        = "error"
	logAttrComponent    = "component"
	logAttrStream       = "stream"
	logAttrStreams      = "streams"
	logAttrSubscription = "subscription"
	logAttrKey          = "key"
	logAttrConsumer     = "consumer"
	logAttrEntryID      = "entry_id"
	logAttrCount        = "count"
	logAttrDurationMS   = "duration_ms"
	logAttrWorkers      = "workers"
	logAttrSignal       = "signal"
	logAttrPolicy       = "failure_policy"
	logAttrState        = "state"
	componentName       = "jstreams"
)

// DefaultLogger returns the logger a Context uses when none is configured:
// a slog text logger writing to stdout if JSTREAMS_VERBOSE is set, otherwise one that discards everything.
func DefaultLogger() *slog.Logger {
	return newDefaultLogger(os.Getenv(VerboseEnvVar) != "", os.Stdout)
}

func newDefaultLogger(verbose bool, out io.Writer) *slog.Logger {
	if !verbose {
		out = io.Discard
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// TaggedLogger decorates a Logger with a fixed set of key/value tags that are prepended to every record.
type TaggedLogger struct {
	next Logger
	tags []any
}

// NewTaggedLogger wraps next so that every record carries tags.
// Wrapping a TaggedLogger again accumulates the tags instead of nesting.
func NewTaggedLogger(next Logger, tags ...any) *TaggedLogger {
	if tagged, ok := next.(*TaggedLogger); ok {
		return &TaggedLogger{
			next: tagged.next,
			tags: append(append([]any{}, tagged.tags...), tags...),
		}
	}

	return &TaggedLogger{next: next, tags: tags}
}

// Tags returns a copy of the tags this logger prepends.
func (l *TaggedLogger) Tags() []any {
	return append([]any{}, l.tags...)
}

func (l *TaggedLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.merge(args)...) }

func (l *TaggedLogger) Info(msg string, args ...any) { l.next.Info(msg, l.merge(args)...) }

func (l *TaggedLogger) Warn(msg string, args ...any) { l.next.Warn(msg, l.merge(args)...) }

func (l *TaggedLogger) Error(msg string, args ...any) { l.next.Error(msg, l.merge(args)...) }

func (l *TaggedLogger) merge(args []any) []any {
	merged := make([]any, 0, len(l.tags)+len(args))
	merged = append(merged, l.tags...)

	return append(merged, args...)
}

type taggedContextualLogger struct {
	next ContextualLogger
	tags []any
}

func newTaggedContextualLogger(next ContextualLogger, tags ...any) *taggedContextualLogger {
	if tagged, ok := next.(*taggedContextualLogger); ok {
		return &taggedContextualLogger{
			next: tagged.next,
			tags: append(append([]any{}, tagged.tags...), tags...),
		}
	}

	return &taggedContextualLogger{next: next, tags: tags}
}

func (l *taggedContextualLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.next.DebugContext(ctx, msg, append(append([]any{}, l.tags...), args...)...)
}

func (l *taggedContextualLogger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.next.InfoContext(ctx, msg, append(append([]any{}, l.tags...), args...)...)
}

func (l *taggedContextualLogger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.next.WarnContext(ctx, msg, append(append([]any{}, l.tags...), args...)...)
}

func (l *taggedContextualLogger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.next.ErrorContext(ctx, msg, append(append([]any{}, l.tags...), args...)...)
}
