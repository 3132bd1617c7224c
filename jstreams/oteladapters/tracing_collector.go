package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

// TracingCollector implements jstreams.TracingCollector on an OpenTelemetry tracer.
// Publish spans are producer spans, handle spans are consumer spans.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a collector starting spans on tracer.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan starts a span and returns the context carrying it.
func (t *TracingCollector) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, jstreams.SpanContext) {
	spanCtx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(spanKind(name)),
		trace.WithAttributes(toAttributes(attrs)...))

	return spanCtx, &OTelSpanContext{span: span}
}

// FinishSpan adds attrs, sets the status and ends the span. Spans not started by a TracingCollector are ignored.
func (t *TracingCollector) FinishSpan(spanCtx jstreams.SpanContext, status string, attrs map[string]string) {
	otelSpanCtx, ok := spanCtx.(*OTelSpanContext)
	if !ok {
		return
	}

	otelSpanCtx.span.SetAttributes(toAttributes(attrs)...)
	otelSpanCtx.SetStatus(status)
	otelSpanCtx.span.End()
}

func spanKind(name string) trace.SpanKind {
	switch name {
	case "jstreams.publish":
		return trace.SpanKindProducer
	case "jstreams.handle":
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindInternal
	}
}

var _ jstreams.TracingCollector = (*TracingCollector)(nil)

// OTelSpanContext wraps an OpenTelemetry span as a jstreams.SpanContext.
type OTelSpanContext struct {
	span trace.Span
}

// Span returns the wrapped span.
func (s *OTelSpanContext) Span() trace.Span {
	return s.span
}

// SetStatus maps the jstreams status strings onto span status codes.
// Unknown strings are kept as a "status" attribute.
func (s *OTelSpanContext) SetStatus(status string) {
	switch status {
	case "success":
		s.span.SetStatus(codes.Ok, "")
	case "error":
		s.span.SetStatus(codes.Error, "operation failed")
	case "canceled":
		s.span.SetStatus(codes.Error, "operation canceled")
	default:
		s.span.SetAttributes(attribute.String("status", status))
	}
}

func (s *OTelSpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

var _ jstreams.SpanContext = (*OTelSpanContext)(nil)
