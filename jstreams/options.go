package jstreams

import (
	"os"
	"time"
)

// Option defines a functional option for configuring a Context.
type Option func(*Context) error

// WithPoolSize sets how many store connections the Context pools.
func WithPoolSize(size int32) Option {
	return func(c *Context) error {
		if size < 1 {
			return configurationError("pool size must be positive, got %d", size)
		}

		c.poolSize = size

		return nil
	}
}

// WithCheckoutTimeout sets how long publishing and consuming wait for a free pooled connection.
func WithCheckoutTimeout(timeout time.Duration) Option {
	return func(c *Context) error {
		if timeout <= 0 {
			return configurationError("checkout timeout must be positive, got %s", timeout)
		}

		c.checkoutTimeout = timeout

		return nil
	}
}

// WithSerializer replaces the default JSONSerializer.
func WithSerializer(serializer Serializer) Option {
	return func(c *Context) error {
		if serializer == nil {
			return configurationError("nil serializer supplied")
		}

		c.serializer = serializer

		return nil
	}
}

// WithLogger sets the logger. It replaces the default logger, which is controlled by JSTREAMS_VERBOSE.
//
// Debug level: every published and handled message
// Info level: lifecycle of the Context and its subscriptions
// Warn level: recoverable failures like read errors or checkout timeouts
// Error level: failed publishes, failed handlers and failed workers.
func WithLogger(logger Logger) Option {
	return func(c *Context) error {
		if logger == nil {
			return configurationError("nil logger supplied")
		}

		c.logger = logger

		return nil
	}
}

// WithContextualLogger adds a context-aware logger that receives the same records as the Logger,
// together with the context of the operation, so it can correlate them with tracing spans.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(c *Context) error {
		c.obs.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for publish, consume, pool and worker metrics.
func WithMetrics(collector MetricsCollector) Option {
	return func(c *Context) error {
		c.obs.metrics = collector
		return nil
	}
}

// WithTracing sets the tracing collector. Spans are created per publish and per handled message.
func WithTracing(collector TracingCollector) Option {
	return func(c *Context) error {
		c.obs.tracing = collector
		return nil
	}
}

// WithFailurePolicy decides what happens when a worker fails. The default is FailureIsolate.
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(c *Context) error {
		switch policy {
		case FailureIsolate, FailureStopAll, FailureExit:
			c.failurePolicy = policy
			return nil
		default:
			return configurationError("unknown failure policy %d", policy)
		}
	}
}

// WithExitFunc replaces os.Exit as the process termination used by FailureExit.
func WithExitFunc(exit func(code int)) Option {
	return func(c *Context) error {
		if exit == nil {
			return configurationError("nil exit func supplied")
		}

		c.exitFunc = exit

		return nil
	}
}

// WithShutdownSignals replaces the signals that trigger Shutdown once the Context is started (default os.Interrupt).
func WithShutdownSignals(signals ...os.Signal) Option {
	return func(c *Context) error {
		if len(signals) == 0 {
			return configurationError("no shutdown signals supplied")
		}

		c.signals = signals
		c.handleSignals = true

		return nil
	}
}

// WithoutSignalHandling keeps Start from installing a signal handler.
// Shutdown then happens only through Shutdown or through cancellation of the context passed to Start.
func WithoutSignalHandling() Option {
	return func(c *Context) error {
		c.handleSignals = false
		return nil
	}
}
