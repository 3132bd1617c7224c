// Package oteladapters implements the jstreams observability interfaces on OpenTelemetry:
// TracingCollector on a trace.Tracer, MetricsCollector on a metric.Meter, and ContextualLogger
// either on the otelslog bridge or directly on the OpenTelemetry log API.
//
//	streams, err := jstreams.New(dialer,
//		jstreams.WithTracing(oteladapters.NewTracingCollector(otel.Tracer("jstreams"))),
//		jstreams.WithMetrics(oteladapters.NewMetricsCollector(otel.Meter("jstreams"))),
//		jstreams.WithContextualLogger(oteladapters.NewSlogBridgeLogger("jstreams")),
//	)
package oteladapters
