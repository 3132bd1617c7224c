package jstreams

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration is returned when a Context, Subscription or engine is built with invalid arguments.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrPoolExhausted is returned when no pooled connection became available within the checkout timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrSerialization is returned when a message could not be encoded or decoded.
	ErrSerialization = errors.New("serialization failed")

	// ErrStore is returned when the stream store failed during publish or consume.
	ErrStore = errors.New("stream store operation failed")

	// ErrUnhandledWorker is returned when a worker terminated with an error it did not handle itself.
	ErrUnhandledWorker = errors.New("unhandled worker error")

	// ErrNotStarted is returned by WaitForShutdown when Start or Run was never called.
	ErrNotStarted = errors.New("context was not started")

	// ErrAlreadyStarted is returned when Start or Run is called a second time.
	ErrAlreadyStarted = errors.New("context was already started")

	// ErrContextClosed is returned when the Context's pool was closed.
	ErrContextClosed = errors.New("context is closed")

	// ErrNilDialer is returned when a Context is constructed without a Dialer.
	ErrNilDialer = errors.Join(ErrConfiguration, errors.New("nil dialer supplied"))

	// ErrEmptySubscriptionName is returned when Subscribe is called without a name.
	ErrEmptySubscriptionName = errors.Join(ErrConfiguration, errors.New("empty subscription name supplied"))

	// ErrNoStreams is returned when Subscribe is called without any non-empty stream name.
	ErrNoStreams = errors.Join(ErrConfiguration, errors.New("no stream names supplied"))

	// ErrNilHandler is returned when Subscribe is called without a handler.
	ErrNilHandler = errors.Join(ErrConfiguration, errors.New("nil handler supplied"))

	// ErrEmptyStreamName is returned when Publish is called with an empty stream name.
	ErrEmptyStreamName = errors.Join(ErrConfiguration, errors.New("empty stream name supplied"))
)

// PoolExhaustionError carries the pool settings that were in effect when a checkout timed out.
type PoolExhaustionError struct {
	Size    int32
	Timeout time.Duration
}

func (e *PoolExhaustionError) Error() string {
	return fmt.Sprintf("%s: all %d connections busy for %s", ErrPoolExhausted.Error(), e.Size, e.Timeout)
}

// Is makes errors.Is(err, ErrPoolExhausted) work for wrapped PoolExhaustionError values.
func (e *PoolExhaustionError) Is(target error) bool {
	return target == ErrPoolExhausted
}

// UnhandledWorkerError is the outcome of a worker that failed, either by returning an error or by panicking.
type UnhandledWorkerError struct {
	Subscription string
	Panic        any
	Err          error
}

func (e *UnhandledWorkerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("%s: subscription %q panicked: %v", ErrUnhandledWorker.Error(), e.Subscription, e.Panic)
	}

	return fmt.Sprintf("%s: subscription %q: %v", ErrUnhandledWorker.Error(), e.Subscription, e.Err)
}

// Is makes errors.Is(err, ErrUnhandledWorker) work for wrapped UnhandledWorkerError values.
func (e *UnhandledWorkerError) Is(target error) bool {
	return target == ErrUnhandledWorker
}

func (e *UnhandledWorkerError) Unwrap() error {
	return e.Err
}

func configurationError(format string, args ...any) error {
	return errors.Join(ErrConfiguration, fmt.Errorf(format, args...))
}
