package jstreams

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/puddle/v2"
)

const (
	// DefaultPoolSize is the number of store connections a Context pools unless configured otherwise.
	DefaultPoolSize = int32(10)

	// DefaultCheckoutTimeout is how long a checkout waits for a free connection unless configured otherwise.
	DefaultCheckoutTimeout = 5 * time.Second
)

// Pool is a bounded set of reusable store connections.
// It is safe for concurrent use by the publishing caller and by every worker.
type Pool struct {
	pool            *puddle.Pool[Conn]
	size            int32
	checkoutTimeout time.Duration
	obs             observer
}

// PoolStat is a snapshot of the pool's occupancy.
type PoolStat struct {
	Size      int32
	Total     int32
	InUse     int32
	Idle      int32
	Checkouts int64
	Canceled  int64
}

// NewPool creates a pool that dials connections lazily, up to size, and waits up to checkoutTimeout on checkout.
func NewPool(dialer Dialer, size int32, checkoutTimeout time.Duration) (*Pool, error) {
	if dialer == nil {
		return nil, ErrNilDialer
	}

	if size < 1 {
		return nil, configurationError("pool size must be positive, got %d", size)
	}

	if checkoutTimeout <= 0 {
		return nil, configurationError("checkout timeout must be positive, got %s", checkoutTimeout)
	}

	pool, err := puddle.NewPool(&puddle.Config[Conn]{
		Constructor: func(ctx context.Context) (Conn, error) {
			return dialer(ctx)
		},
		Destructor: func(conn Conn) {
			_ = conn.Close()
		},
		MaxSize: size,
	})
	if err != nil {
		return nil, errors.Join(ErrConfiguration, err)
	}

	return &Pool{
		pool:            pool,
		size:            size,
		checkoutTimeout: checkoutTimeout,
	}, nil
}

// With checks out one connection, runs fn with exclusive use of it and returns it to the pool on every exit path.
//
// If no connection frees up within the checkout timeout, With fails with a *PoolExhaustionError.
// If fn panics, the connection is destroyed instead of being returned and the panic continues.
func (p *Pool) With(ctx context.Context, fn func(conn Conn) error) error {
	start := time.Now()

	checkoutCtx, cancel := context.WithTimeout(ctx, p.checkoutTimeout)
	defer cancel()

	res, err := p.pool.Acquire(checkoutCtx)
	p.obs.recordDuration(ctx, metricCheckoutWait, time.Since(start), nil)
	if err != nil {
		return p.checkoutError(ctx, err)
	}

	p.obs.recordValue(ctx, metricPoolInUse, float64(p.pool.Stat().AcquiredResources()), nil)

	released := false
	defer func() {
		if !released {
			res.Destroy()
		}
	}()

	fnErr := fn(res.Value())

	res.Release()
	released = true

	return fnErr
}

func (p *Pool) checkoutError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, puddle.ErrClosedPool):
		return ErrContextClosed

	case ctx.Err() != nil:
		return ctx.Err()

	case errors.Is(err, context.DeadlineExceeded):
		p.obs.incrementCounter(ctx, metricPoolExhausted, nil)
		p.obs.warn(ctx, "connection checkout timed out", err, logAttrDurationMS, p.checkoutTimeout.Milliseconds())

		return &PoolExhaustionError{Size: p.size, Timeout: p.checkoutTimeout}

	case errors.Is(err, ErrStore):
		return err

	default:
		return errors.Join(ErrStore, err)
	}
}

// Stat returns a snapshot of the pool's occupancy.
func (p *Pool) Stat() PoolStat {
	stat := p.pool.Stat()

	return PoolStat{
		Size:      p.size,
		Total:     stat.TotalResources(),
		InUse:     stat.AcquiredResources(),
		Idle:      stat.IdleResources(),
		Checkouts: stat.AcquireCount(),
		Canceled:  stat.CanceledAcquireCount(),
	}
}

// Size returns the pool's capacity.
func (p *Pool) Size() int32 {
	return p.size
}

// CheckoutTimeout returns how long a checkout waits for a free connection.
func (p *Pool) CheckoutTimeout() time.Duration {
	return p.checkoutTimeout
}

// Close closes all idle connections and waits for checked-out ones to be returned and closed.
func (p *Pool) Close() {
	p.pool.Close()
}
