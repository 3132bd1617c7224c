package jstreams_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
	"github.com/AntonStoeckl/jstreams-go/testutil/helper"
	"github.com/AntonStoeckl/jstreams-go/testutil/memstore"
)

type policyFixture struct {
	store   *memstore.Store
	context *jstreams.Context
	bad     *jstreams.Subscription
	good    *jstreams.Subscription
	goodLog *helper.RecordingHandler
}

func givenOnePanickingAndOneHealthySubscription(t *testing.T, options ...jstreams.Option) policyFixture {
	t.Helper()

	store := memstore.New()
	c := newTestContext(t, store, options...)

	badHandler := helper.NewRecordingHandler(1)
	badHandler.PanicWith("boom")
	bad, err := c.Subscribe("bad", []string{"bad-stream"}, badHandler, subscribeOptions()...)
	require.NoError(t, err)

	goodHandler := helper.NewRecordingHandler(10)
	good, err := c.Subscribe("good", []string{"good-stream"}, goodHandler, subscribeOptions()...)
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))

	return policyFixture{store: store, context: c, bad: bad, good: good, goodLog: goodHandler}
}

func waitForWorkerResult(t *testing.T, c *jstreams.Context, sub *jstreams.Subscription) jstreams.WorkerResult {
	t.Helper()

	var found jstreams.WorkerResult
	require.Eventually(t, func() bool {
		for _, result := range c.Results() {
			if result.Subscription == sub {
				found = result
				return true
			}
		}
		return false
	}, waitForMessage, 5*time.Millisecond)

	return found
}

func Test_FailureIsolate_ShouldKeepOtherWorkersRunning(t *testing.T) {
	// setup
	f := givenOnePanickingAndOneHealthySubscription(t)

	// act
	_, err := f.context.Publish(context.Background(), "bad-stream", "poison")
	require.NoError(t, err)

	// assert
	result := waitForWorkerResult(t, f.context, f.bad)
	assert.ErrorIs(t, result.Err, jstreams.ErrUnhandledWorker)

	_, err = f.context.Publish(context.Background(), "good-stream", "still alive")
	require.NoError(t, err)
	msg := f.goodLog.WaitForMessage(t, waitForMessage)
	assert.Equal(t, "still alive", msg.Payload)
	assert.True(t, f.good.Running())
	assert.Equal(t, jstreams.StateRunning, f.context.State())

	require.NoError(t, f.context.Shutdown())
	waitErr := helper.WaitForShutdownWithin(t, f.context, waitForJoin)

	var workerErr *jstreams.UnhandledWorkerError
	require.ErrorAs(t, waitErr, &workerErr)
	assert.Equal(t, "bad", workerErr.Subscription)
	assert.Equal(t, "boom", workerErr.Panic)
}

func Test_FailureStopAll_ShouldShutDownAllWorkers(t *testing.T) {
	// setup
	f := givenOnePanickingAndOneHealthySubscription(t, jstreams.WithFailurePolicy(jstreams.FailureStopAll))

	// act
	_, err := f.context.Publish(context.Background(), "bad-stream", "poison")
	require.NoError(t, err)

	// assert
	waitErr := helper.WaitForShutdownWithin(t, f.context, waitForJoin)
	assert.ErrorIs(t, waitErr, jstreams.ErrUnhandledWorker)
	assert.True(t, f.good.Stopped())
	assert.False(t, f.good.Running())
	assert.Equal(t, jstreams.StateStopped, f.context.State())
}

func Test_FailureExit_ShouldTerminateTheProcess(t *testing.T) {
	// setup
	exitCodes := make(chan int, 1)
	f := givenOnePanickingAndOneHealthySubscription(t,
		jstreams.WithFailurePolicy(jstreams.FailureExit),
		jstreams.WithExitFunc(func(code int) { exitCodes <- code }),
	)

	// act
	_, err := f.context.Publish(context.Background(), "bad-stream", "poison")
	require.NoError(t, err)

	// assert
	select {
	case code := <-exitCodes:
		assert.Equal(t, 1, code)
	case <-time.After(waitForMessage):
		require.FailNow(t, "exit func was not called")
	}

	require.NoError(t, f.context.Shutdown())
	assert.ErrorIs(t, helper.WaitForShutdownWithin(t, f.context, waitForJoin), jstreams.ErrUnhandledWorker)
}

func Test_Worker_ShouldRetryGroupSetup_UntilStoreIsReachable(t *testing.T) {
	// setup
	store := memstore.New()
	dialErr := errors.New("connection refused")
	var reachable atomic.Bool
	dialer := func(ctx context.Context) (jstreams.Conn, error) {
		if !reachable.Load() {
			return nil, dialErr
		}

		return store.Dialer()(ctx)
	}

	metricsSpy := helper.NewMetricsCollectorSpy()
	c, err := jstreams.New(dialer,
		jstreams.WithoutSignalHandling(),
		jstreams.WithCheckoutTimeout(50*time.Millisecond),
		jstreams.WithMetrics(metricsSpy),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	handler := helper.NewRecordingHandler(1)
	sub, err := c.Subscribe("orders", []string{"orders-stream"}, handler, subscribeOptions()...)
	require.NoError(t, err)

	// arrange
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		return metricsSpy.HasCounterRecordForMetric("jstreams_read_errors_total").
			WithLabel("subscription", "orders").WithLabel("error_type", "store").Count() >= 2
	}, waitForMessage, 5*time.Millisecond)
	assert.Empty(t, c.Results(), "the worker should keep retrying instead of failing")
	assert.True(t, sub.Running())

	// act
	reachable.Store(true)
	id, err := c.Publish(context.Background(), "orders-stream", map[string]any{"id": 1})
	require.NoError(t, err)

	// assert
	msg := handler.WaitForMessage(t, waitForMessage)
	assert.Equal(t, id, msg.ID)

	require.NoError(t, c.Shutdown())
	assert.NoError(t, helper.WaitForShutdownWithin(t, c, waitForJoin))
}

func Test_Worker_ShouldStopCleanly_WhileStoreIsUnreachable(t *testing.T) {
	// setup
	c, err := jstreams.New(
		func(context.Context) (jstreams.Conn, error) { return nil, errors.New("connection refused") },
		jstreams.WithoutSignalHandling(),
		jstreams.WithCheckoutTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	sub, err := c.Subscribe("orders", []string{"orders-stream"}, helper.NewRecordingHandler(1), subscribeOptions()...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, sub.Running, waitForMessage, 5*time.Millisecond)

	// act
	require.NoError(t, c.Shutdown())
	waitErr := helper.WaitForShutdownWithin(t, c, waitForJoin)

	// assert
	assert.NoError(t, waitErr)
}

func Test_FailurePolicy_String(t *testing.T) {
	assert.Equal(t, "isolate", jstreams.FailureIsolate.String())
	assert.Equal(t, "stop_all", jstreams.FailureStopAll.String())
	assert.Equal(t, "exit", jstreams.FailureExit.String())
	assert.Equal(t, "unknown", jstreams.FailurePolicy(9).String())
	assert.Equal(t, "stopping", jstreams.StateStopping.String())
}
