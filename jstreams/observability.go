package jstreams

import (
	"context"
	"errors"
	"math"
	"time"
)

// Logger is the leveled logging capability used by the Context, the Publisher and every Subscription.
// Its signatures match *slog.Logger, so a plain slog logger can be passed in.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger is the context-aware variant of Logger.
// When configured, it receives the same records as Logger with the operation's context attached,
// which lets tracing-aware backends correlate log lines with spans.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector receives publish, consume and pool metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware methods.
// It is optional: the context-aware methods are used when the configured collector implements them.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector creates and finishes spans around publish and message handling.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

const (
	metricPublishDuration     = "jstreams_publish_duration_seconds"
	metricPublishedMessages   = "jstreams_published_messages_total"
	metricPublishErrors       = "jstreams_publish_errors_total"
	metricHandleDuration      = "jstreams_handle_duration_seconds"
	metricHandledMessages     = "jstreams_handled_messages_total"
	metricHandlerErrors       = "jstreams_handler_errors_total"
	metricReadErrors          = "jstreams_read_errors_total"
	metricReclaimedMessages   = "jstreams_reclaimed_messages_total"
	metricCheckoutWait        = "jstreams_pool_checkout_wait_seconds"
	metricPoolExhausted       = "jstreams_pool_exhausted_total"
	metricPoolInUse           = "jstreams_pool_connections_in_use"
	metricWorkersRunning      = "jstreams_workers_running"
	metricWorkerFailures      = "jstreams_worker_failures_total"
	spanNamePublish           = "jstreams.publish"
	spanNameHandle            = "jstreams.handle"
	spanAttrStream            = "stream"
	spanAttrSubscription      = "subscription"
	spanAttrEntryID           = "entry_id"
	spanAttrErrorType         = "error_type"
	labelStream               = "stream"
	labelSubscription         = "subscription"
	labelStatus               = "status"
	labelErrorType            = "error_type"
	statusSuccess             = "success"
	statusError               = "error"
	statusCanceled            = "canceled"
	errorTypeSerialization    = "serialization"
	errorTypeStore            = "store"
	errorTypePoolExhausted    = "pool_exhausted"
	errorTypeHandler          = "handler"
	errorTypeContextCancelled = "context_canceled"
	errorTypeOther            = "other"
)

// observer bundles the optional observability collaborators and the nil checks around them.
// The zero value is usable and does nothing.
type observer struct {
	logger           Logger
	contextualLogger ContextualLogger
	metrics          MetricsCollector
	tracing          TracingCollector
}

func (o observer) debug(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.DebugContext(ctx, msg, args...)
	}
}

func (o observer) info(ctx context.Context, msg string, args ...any) {
	if o.logger != nil {
		o.logger.Info(msg, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.InfoContext(ctx, msg, args...)
	}
}

func (o observer) warn(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if o.logger != nil {
		o.logger.Warn(msg, allArgs...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.WarnContext(ctx, msg, allArgs...)
	}
}

func (o observer) error(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if o.logger != nil {
		o.logger.Error(msg, allArgs...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	}
}

func (o observer) withTags(args ...any) observer {
	if o.logger != nil {
		o.logger = NewTaggedLogger(o.logger, args...)
	}

	if o.contextualLogger != nil {
		o.contextualLogger = newTaggedContextualLogger(o.contextualLogger, args...)
	}

	return o
}

func (o observer) recordDuration(ctx context.Context, metric string, d time.Duration, labels map[string]string) {
	if o.metrics == nil {
		return
	}

	if contextual, ok := o.metrics.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, d, labels)
		return
	}

	o.metrics.RecordDuration(metric, d, labels)
}

func (o observer) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if o.metrics == nil {
		return
	}

	if contextual, ok := o.metrics.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	o.metrics.IncrementCounter(metric, labels)
}

func (o observer) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if o.metrics == nil {
		return
	}

	if contextual, ok := o.metrics.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	o.metrics.RecordValue(metric, value, labels)
}

func (o observer) startSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext) {
	if o.tracing == nil {
		return ctx, nil
	}

	return o.tracing.StartSpan(ctx, name, attrs)
}

func (o observer) finishSpan(span SpanContext, status string, attrs map[string]string) {
	if o.tracing == nil || span == nil {
		return
	}

	o.tracing.FinishSpan(span, status, attrs)
}

// errorType maps an error onto the label value used in metrics and spans.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrPoolExhausted):
		return errorTypePoolExhausted
	case errors.Is(err, ErrSerialization):
		return errorTypeSerialization
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errorTypeContextCancelled
	case errors.Is(err, ErrStore):
		return errorTypeStore
	default:
		return errorTypeOther
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
