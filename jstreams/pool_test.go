package jstreams_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
	"github.com/AntonStoeckl/jstreams-go/testutil/memstore"
)

func newTestPool(t *testing.T, dialer jstreams.Dialer, size int32, timeout time.Duration) *jstreams.Pool {
	t.Helper()

	pool, err := jstreams.NewPool(dialer, size, timeout)
	require.NoError(t, err, "creating the pool failed")
	t.Cleanup(pool.Close)

	return pool
}

// holdConnections checks out n connections and keeps them until the returned release func is called.
func holdConnections(t *testing.T, pool *jstreams.Pool, n int) (release func(), done *sync.WaitGroup) {
	t.Helper()

	gate := make(chan struct{})
	acquired := make(chan struct{}, n)
	done = &sync.WaitGroup{}

	for i := 0; i < n; i++ {
		done.Add(1)
		go func() {
			defer done.Done()
			_ = pool.With(context.Background(), func(jstreams.Conn) error {
				acquired <- struct{}{}
				<-gate
				return nil
			})
		}()
	}

	for i := 0; i < n; i++ {
		select {
		case <-acquired:
		case <-time.After(time.Second):
			require.FailNow(t, "holding connections took too long")
		}
	}

	var once sync.Once

	return func() { once.Do(func() { close(gate) }) }, done
}

func Test_NewPool_ShouldFail_WithInvalidArguments(t *testing.T) {
	testCases := []struct {
		name    string
		dialer  jstreams.Dialer
		size    int32
		timeout time.Duration
	}{
		{name: "nil dialer", dialer: nil, size: 1, timeout: time.Second},
		{name: "zero size", dialer: memstore.New().Dialer(), size: 0, timeout: time.Second},
		{name: "zero timeout", dialer: memstore.New().Dialer(), size: 1, timeout: 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			pool, err := jstreams.NewPool(tc.dialer, tc.size, tc.timeout)

			// assert
			assert.Nil(t, pool)
			assert.ErrorIs(t, err, jstreams.ErrConfiguration)
		})
	}
}

func Test_Pool_ShouldDialLazily_AndReuseConnections(t *testing.T) {
	// setup
	store := memstore.New()
	pool := newTestPool(t, store.Dialer(), 3, time.Second)

	// act
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.With(context.Background(), func(jstreams.Conn) error { return nil }))
	}

	// assert
	assert.Equal(t, int64(1), store.Dials())
	stat := pool.Stat()
	assert.Equal(t, int32(3), stat.Size)
	assert.Equal(t, int32(1), stat.Total)
	assert.Equal(t, int32(0), stat.InUse)
	assert.Equal(t, int64(5), stat.Checkouts)
}

func Test_Pool_ShouldReturnConnection_WhenCallbackFails(t *testing.T) {
	// setup
	pool := newTestPool(t, memstore.New().Dialer(), 1, 50*time.Millisecond)
	callbackErr := errors.New("callback failed")

	// act
	err := pool.With(context.Background(), func(jstreams.Conn) error { return callbackErr })

	// assert
	assert.ErrorIs(t, err, callbackErr)
	assert.NoError(t, pool.With(context.Background(), func(jstreams.Conn) error { return nil }),
		"the single connection should be back in the pool")
}

func Test_Pool_ShouldDestroyConnection_WhenCallbackPanics(t *testing.T) {
	// setup
	store := memstore.New()
	pool := newTestPool(t, store.Dialer(), 1, 50*time.Millisecond)

	// act
	assert.PanicsWithValue(t, "boom", func() {
		_ = pool.With(context.Background(), func(jstreams.Conn) error { panic("boom") })
	})

	// assert
	assert.Equal(t, int64(0), store.OpenConns())
	assert.NoError(t, pool.With(context.Background(), func(jstreams.Conn) error { return nil }),
		"a fresh connection should be dialed")
	assert.Equal(t, int64(2), store.Dials())
}

func Test_Pool_ShouldFail_WithStoreError_WhenDialFails(t *testing.T) {
	// setup
	dialErr := errors.New("connection refused")
	pool := newTestPool(t, func(context.Context) (jstreams.Conn, error) { return nil, dialErr }, 1, 50*time.Millisecond)

	// act
	err := pool.With(context.Background(), func(jstreams.Conn) error { return nil })

	// assert
	assert.ErrorIs(t, err, jstreams.ErrStore)
	assert.ErrorIs(t, err, dialErr)
}

func Test_Pool_ShouldReturnContextError_WhenCallerCancels(t *testing.T) {
	// setup
	pool := newTestPool(t, memstore.New().Dialer(), 1, time.Second)
	release, done := holdConnections(t, pool, 1)
	defer func() { release(); done.Wait() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// act
	err := pool.With(ctx, func(jstreams.Conn) error { return nil })

	// assert
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, jstreams.ErrPoolExhausted)
}

func Test_Pool_ShouldFail_WithContextClosed_AfterClose(t *testing.T) {
	// setup
	pool, err := jstreams.NewPool(memstore.New().Dialer(), 1, time.Second)
	require.NoError(t, err)
	pool.Close()

	// act
	err = pool.With(context.Background(), func(jstreams.Conn) error { return nil })

	// assert
	assert.ErrorIs(t, err, jstreams.ErrContextClosed)
}

func Test_Scenario_PoolExhaustion_ShouldTimeOut_WithoutDeadlock(t *testing.T) {
	// setup
	const size = 2
	pool := newTestPool(t, memstore.New().Dialer(), size, 50*time.Millisecond)
	release, done := holdConnections(t, pool, size)
	defer func() { release(); done.Wait() }()

	// act
	start := time.Now()
	err := pool.With(context.Background(), func(jstreams.Conn) error { return nil })
	waited := time.Since(start)

	// assert
	assert.ErrorIs(t, err, jstreams.ErrPoolExhausted)
	var exhaustion *jstreams.PoolExhaustionError
	require.ErrorAs(t, err, &exhaustion)
	assert.Equal(t, int32(size), exhaustion.Size)
	assert.Equal(t, 50*time.Millisecond, exhaustion.Timeout)
	assert.GreaterOrEqual(t, waited, 50*time.Millisecond)
	assert.Less(t, waited, time.Second)
	assert.Equal(t, int32(size), pool.Stat().InUse)
}

func Test_Scenario_PoolExhaustion_ShouldSucceed_WhenConnectionFreesUpInTime(t *testing.T) {
	// setup
	const size = 2
	pool := newTestPool(t, memstore.New().Dialer(), size, time.Second)
	release, done := holdConnections(t, pool, size)

	// act
	time.AfterFunc(30*time.Millisecond, release)
	err := pool.With(context.Background(), func(jstreams.Conn) error { return nil })

	// assert
	assert.NoError(t, err)
	done.Wait()
	assert.Equal(t, int32(0), pool.Stat().InUse)
}

func Test_Publish_ShouldFail_WithPoolExhaustion_WhenAllConnectionsAreBusy(t *testing.T) {
	// setup
	store := memstore.New()
	c := newTestContext(t, store, jstreams.WithPoolSize(1), jstreams.WithCheckoutTimeout(30*time.Millisecond))
	release, done := holdConnections(t, c.Pool(), 1)
	defer func() { release(); done.Wait() }()

	// act
	_, err := c.Publish(context.Background(), "events", "message")

	// assert
	assert.ErrorIs(t, err, jstreams.ErrPoolExhausted)
	assert.Equal(t, int64(0), store.Appends())
}
