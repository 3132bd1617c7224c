package redisengine

import (
	"errors"
	"fmt"
	"time"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

// DefaultStoreURL is used when NewContext or NewDialer get an empty URL.
const DefaultStoreURL = "redis://localhost:6379/0"

// PayloadField is the stream entry field that holds the serialized message.
const PayloadField = "payload"

// Option defines a functional option for configuring the redis Dialer.
type Option func(*config) error

type config struct {
	maxLen      int64
	dialTimeout time.Duration
}

// WithMaxLen caps every stream the engine appends to at roughly maxLen entries (XADD MAXLEN ~).
// Zero keeps streams unbounded, which is the default.
func WithMaxLen(maxLen int64) Option {
	return func(c *config) error {
		if maxLen < 0 {
			return errors.Join(jstreams.ErrConfiguration, fmt.Errorf("max len must not be negative, got %d", maxLen))
		}

		c.maxLen = maxLen

		return nil
	}
}

// WithDialTimeout overrides the dial timeout of the URL (or the go-redis default of 5s).
func WithDialTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return errors.Join(jstreams.ErrConfiguration, fmt.Errorf("dial timeout must be positive, got %s", timeout))
		}

		c.dialTimeout = timeout

		return nil
	}
}
