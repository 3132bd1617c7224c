package jstreams

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a Context. It only ever moves forward:
// Created -> Running -> Stopping -> Stopped.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FailurePolicy decides how the Context reacts to a worker that failed.
type FailurePolicy int

const (
	// FailureIsolate lets the failed worker exit while all others keep running.
	// The failure is logged and reported by WaitForShutdown and Results.
	FailureIsolate FailurePolicy = iota

	// FailureStopAll requests a Shutdown of all workers on the first failure.
	FailureStopAll

	// FailureExit terminates the whole process on the first failure (fail-fast).
	FailureExit
)

func (p FailurePolicy) String() string {
	switch p {
	case FailureIsolate:
		return "isolate"
	case FailureStopAll:
		return "stop_all"
	case FailureExit:
		return "exit"
	default:
		return "unknown"
	}
}

// WorkerResult is the outcome of one worker: the subscription it ran and the error it ended with, if any.
type WorkerResult struct {
	Subscription *Subscription
	Err          error
	Duration     time.Duration
}

// Context owns a pool of store connections, a serializer, a logger, a Publisher and a registry of subscriptions,
// and turns every registered subscription into one worker goroutine when started.
type Context struct {
	pool            *Pool
	serializer      Serializer
	logger          Logger
	obs             observer
	publisher       *Publisher
	poolSize        int32
	checkoutTimeout time.Duration
	failurePolicy   FailurePolicy
	exitFunc        func(code int)
	signals         []os.Signal
	handleSignals   bool

	mu            sync.Mutex
	subscriptions []*Subscription
	spawned       []*Subscription
	state         atomic.Int32
	closed        bool
	workers       *errgroup.Group
	watchStop     chan struct{}
	watchDone     chan struct{}

	resultsMu sync.Mutex
	results   []WorkerResult

	joinOnce sync.Once
	joinErr  error
}

// New creates a Context whose pool dials store connections with dialer.
func New(dialer Dialer, options ...Option) (*Context, error) {
	if dialer == nil {
		return nil, ErrNilDialer
	}

	c := &Context{
		serializer:      NewJSONSerializer(),
		poolSize:        DefaultPoolSize,
		checkoutTimeout: DefaultCheckoutTimeout,
		failurePolicy:   FailureIsolate,
		exitFunc:        os.Exit,
		signals:         []os.Signal{os.Interrupt},
		handleSignals:   true,
	}

	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}

	if c.logger == nil {
		c.logger = DefaultLogger()
	}

	c.obs.logger = c.logger
	c.obs = c.obs.withTags(logAttrComponent, componentName)

	pool, err := NewPool(dialer, c.poolSize, c.checkoutTimeout)
	if err != nil {
		return nil, err
	}

	pool.obs = c.obs
	c.pool = pool

	c.publisher = NewPublisher(pool, c.serializer, c.obs.logger)
	c.publisher.obs = c.obs

	return c, nil
}

// Pool returns the Context's connection pool.
func (c *Context) Pool() *Pool { return c.pool }

// Serializer returns the serializer shared by the Publisher and all subscriptions.
func (c *Context) Serializer() Serializer { return c.serializer }

// Logger returns the tagged logger used by the Context.
func (c *Context) Logger() Logger { return c.obs.logger }

// Publisher returns the Publisher behind Publish.
func (c *Context) Publisher() *Publisher { return c.publisher }

// State returns the current lifecycle state.
func (c *Context) State() State { return State(c.state.Load()) }

// Publish appends message to stream and returns the new entry's ID.
// It works independently of the subscriptions and of the lifecycle state, until the Context is closed.
func (c *Context) Publish(ctx context.Context, stream string, message any) (string, error) {
	return c.publisher.Publish(ctx, stream, message)
}

// Subscribe registers handler for streams under the consumer group name (or the key given with WithKey).
// Nothing is started: the subscription becomes a worker when the Context is started.
// Subscriptions registered after Start are kept in the registry and stopped by Shutdown, but never run.
func (c *Context) Subscribe(name string, streams []string, handler Handler, options ...SubscribeOption) (*Subscription, error) {
	sub, err := newSubscription(name, streams, handler, c.pool, c.serializer, c.obs, options...)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, sub)
	started := c.State() != StateCreated
	c.mu.Unlock()

	if started {
		c.obs.warn(context.Background(), "subscription registered after start will not run",
			ErrAlreadyStarted, logAttrSubscription, name)
	}

	return sub, nil
}

// Unsubscribe removes sub from the registry and reports whether it was registered.
//
// This only has an effect before Start: a worker that is already running for sub is not stopped.
// Call sub.Stop for that. Shutdown still stops it.
func (c *Context) Unsubscribe(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := slices.Index(c.subscriptions, sub)
	if i < 0 {
		return false
	}

	c.subscriptions = slices.Delete(c.subscriptions, i, i+1)

	return true
}

// Subscriptions returns a snapshot of the registry.
func (c *Context) Subscriptions() []*Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.subscriptions)
}

// Run starts one worker per registered subscription and blocks until all of them have exited.
func (c *Context) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	return c.WaitForShutdown()
}

// Start starts one worker per registered subscription and returns without waiting for them.
//
// It also starts watching for the shutdown signals (unless disabled) and for cancellation of ctx;
// either one triggers Shutdown. The signal handler itself only forwards the signal to a channel,
// Shutdown runs on a regular goroutine.
func (c *Context) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContextClosed
	}

	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return ErrAlreadyStarted
	}

	c.watch(ctx)

	c.workers = &errgroup.Group{}
	c.spawned = slices.Clone(c.subscriptions)

	for _, sub := range c.subscriptions {
		c.spawn(ctx, sub)
	}

	c.obs.info(ctx, "context started",
		logAttrWorkers, len(c.subscriptions),
		logAttrPolicy, c.failurePolicy.String())
	c.obs.recordValue(ctx, metricWorkersRunning, float64(len(c.subscriptions)), nil)

	return nil
}

func (c *Context) watch(ctx context.Context) {
	c.watchStop = make(chan struct{})
	c.watchDone = make(chan struct{})

	var signals chan os.Signal
	if c.handleSignals {
		signals = make(chan os.Signal, 1)
		signal.Notify(signals, c.signals...)
	}

	go func() {
		defer close(c.watchDone)

		if signals != nil {
			defer signal.Stop(signals)
		}

		select {
		case sig := <-signals:
			c.obs.info(ctx, "shutdown signal received", logAttrSignal, sig.String())
			c.shutdownQuietly(ctx)

		case <-ctx.Done():
			c.obs.info(ctx, "start context canceled, shutting down")
			c.shutdownQuietly(ctx)

		case <-c.watchStop:
		}
	}()
}

func (c *Context) shutdownQuietly(ctx context.Context) {
	if err := c.Shutdown(); err != nil {
		c.obs.error(ctx, "shutdown failed", err)
	}
}

func (c *Context) spawn(ctx context.Context, sub *Subscription) {
	c.workers.Go(func() error {
		start := time.Now()
		err := c.runWorker(ctx, sub)

		c.resultsMu.Lock()
		c.results = append(c.results, WorkerResult{Subscription: sub, Err: err, Duration: time.Since(start)})
		c.resultsMu.Unlock()

		if err != nil {
			c.workerFailed(ctx, sub, err)
		}

		return err
	})
}

// runWorker runs one subscription and converts both returned errors and panics into an UnhandledWorkerError.
func (c *Context) runWorker(ctx context.Context, sub *Subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &UnhandledWorkerError{Subscription: sub.Name(), Panic: r}
		}
	}()

	if runErr := sub.Run(ctx); runErr != nil {
		return &UnhandledWorkerError{Subscription: sub.Name(), Err: runErr}
	}

	return nil
}

func (c *Context) workerFailed(ctx context.Context, sub *Subscription, err error) {
	c.obs.error(ctx, "worker failed", err,
		logAttrSubscription, sub.Name(),
		logAttrPolicy, c.failurePolicy.String())
	c.obs.incrementCounter(ctx, metricWorkerFailures, map[string]string{
		labelSubscription: sub.Name(),
		labelErrorType:    errorType(err),
	})

	switch c.failurePolicy {
	case FailureStopAll:
		c.shutdownQuietly(ctx)

	case FailureExit:
		c.exitFunc(1)

	case FailureIsolate:
	}
}

// WaitForShutdown blocks until every worker has exited and returns the joined errors of the failed ones.
// There is no timeout: a worker that never stops blocks it forever.
//
// Called before Start it fails with ErrNotStarted. Once all workers are joined the Context is Stopped,
// and further calls return the same result at once.
func (c *Context) WaitForShutdown() error {
	c.mu.Lock()
	workers := c.workers
	c.mu.Unlock()

	if workers == nil {
		return ErrNotStarted
	}

	c.joinOnce.Do(func() {
		_ = workers.Wait()

		close(c.watchStop)
		<-c.watchDone

		c.state.Store(int32(StateStopped))
		c.obs.recordValue(context.Background(), metricWorkersRunning, 0, nil)

		var errs []error
		for _, result := range c.Results() {
			if result.Err != nil {
				errs = append(errs, result.Err)
			}
		}

		c.joinErr = errors.Join(errs...)
		c.obs.info(context.Background(), "context stopped", logAttrState, StateStopped.String())
	})

	return c.joinErr
}

// Shutdown asks every registered subscription and every spawned worker to stop.
// It does not wait for the workers to exit: use WaitForShutdown for that.
// Calling it more than once is safe.
func (c *Context) Shutdown() error {
	c.mu.Lock()
	subscriptions := slices.Clone(c.subscriptions)
	for _, sub := range c.spawned {
		if !slices.Contains(subscriptions, sub) {
			subscriptions = append(subscriptions, sub)
		}
	}
	c.mu.Unlock()

	c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))

	var errs []error
	for _, sub := range subscriptions {
		if err := sub.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	c.obs.info(context.Background(), "shutdown requested", logAttrWorkers, len(subscriptions))

	return errors.Join(errs...)
}

// Results returns the outcomes of all workers that have exited so far.
func (c *Context) Results() []WorkerResult {
	c.resultsMu.Lock()
	defer c.resultsMu.Unlock()

	return slices.Clone(c.results)
}

// Close shuts down and joins the workers if the Context was started, then closes the pool.
// Publishing after Close fails with ErrContextClosed.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.workers != nil
	c.mu.Unlock()

	var shutdownErr error
	if started {
		shutdownErr = c.Shutdown()
		_ = c.WaitForShutdown()
	}

	c.pool.Close()

	return shutdownErr
}
