package jstreams

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBatchSize              = 10
	DefaultBlockTimeout           = time.Second
	DefaultErrorBackoff           = time.Second
	DefaultAbandonedCheckInterval = 10 * time.Second
	DefaultAbandonedIdleTimeout   = 10 * time.Minute

	// StartNewest makes a newly created consumer group see only entries appended after its creation.
	StartNewest = "$"

	// StartOldest makes a newly created consumer group replay the stream from its first entry.
	StartOldest = "0"
)

// ErrorHandler is called when decoding a message or handling it failed.
// The message stays unacknowledged either way.
type ErrorHandler func(ctx context.Context, msg Message, err error)

// SubscribeOption configures a Subscription. Options are applied in order; the first failing one aborts Subscribe.
type SubscribeOption func(*subscriptionConfig) error

type subscriptionConfig struct {
	key                    string
	batchSize              int
	blockTimeout           time.Duration
	startID                string
	consumerName           string
	errorHandler           ErrorHandler
	errorBackoff           time.Duration
	abandonedCheckInterval time.Duration
	abandonedIdleTimeout   time.Duration
	extra                  map[string]any
}

func defaultSubscriptionConfig(name string) subscriptionConfig {
	return subscriptionConfig{
		key:                    name,
		batchSize:              DefaultBatchSize,
		blockTimeout:           DefaultBlockTimeout,
		startID:                StartNewest,
		errorBackoff:           DefaultErrorBackoff,
		abandonedCheckInterval: DefaultAbandonedCheckInterval,
		abandonedIdleTimeout:   DefaultAbandonedIdleTimeout,
		extra:                  make(map[string]any),
	}
}

// WithKey overrides the consumer-group identity, which defaults to the subscription name.
// Subscriptions sharing a key share read progress and split the messages between them.
func WithKey(key string) SubscribeOption {
	return func(c *subscriptionConfig) error {
		if key == "" {
			return configurationError("empty subscription key supplied")
		}

		c.key = key

		return nil
	}
}

// WithBatchSize sets how many entries one read fetches at most.
func WithBatchSize(n int) SubscribeOption {
	return func(c *subscriptionConfig) error {
		if n < 1 {
			return configurationError("batch size must be positive, got %d", n)
		}

		c.batchSize = n

		return nil
	}
}

// WithBlockTimeout sets how long one read waits for new entries.
// It bounds how long a stopped subscription needs to notice that it was stopped.
func WithBlockTimeout(d time.Duration) SubscribeOption {
	return func(c *subscriptionConfig) error {
		if d <= 0 {
			return configurationError("block timeout must be positive, got %s", d)
		}

		c.blockTimeout = d

		return nil
	}
}

// WithStartID sets where a consumer group starts when it is created by this subscription.
// It has no effect on groups that already exist.
func WithStartID(id string) SubscribeOption {
	return func(c *subscriptionConfig) error {
		if id == "" {
			return configurationError("empty start id supplied")
		}

		c.startID = id

		return nil
	}
}

// WithConsumerName sets the name this subscription reads under inside its consumer group.
func WithConsumerName(name string) SubscribeOption {
	return func(c *subscriptionConfig) error {
		if name == "" {
			return configurationError("empty consumer name supplied")
		}

		c.consumerName = name

		return nil
	}
}

// WithErrorHandler replaces the default error handling, which only logs.
func WithErrorHandler(h ErrorHandler) SubscribeOption {
	return func(c *subscriptionConfig) error {
		if h == nil {
			return configurationError("nil error handler supplied")
		}

		c.errorHandler = h

		return nil
	}
}

// WithErrorBackoff sets the pause after a failed store read.
func WithErrorBackoff(d time.Duration) SubscribeOption {
	return func(c *subscriptionConfig) error {
		if d <= 0 {
			return configurationError("error backoff must be positive, got %s", d)
		}

		c.errorBackoff = d

		return nil
	}
}

// WithAbandonedMessageCheck configures the periodic takeover of entries that another consumer of the group
// received but did not acknowledge for idleTimeout. An interval of zero disables the check.
func WithAbandonedMessageCheck(interval, idleTimeout time.Duration) SubscribeOption {
	return func(c *subscriptionConfig) error {
		if interval < 0 || idleTimeout <= 0 {
			return configurationError("invalid abandoned message check %s / %s", interval, idleTimeout)
		}

		c.abandonedCheckInterval = interval
		c.abandonedIdleTimeout = idleTimeout

		return nil
	}
}

// WithExtra attaches an arbitrary option to the subscription. The library does not interpret it;
// handlers and custom engines can read it back through Subscription.Extra.
func WithExtra(key string, value any) SubscribeOption {
	return func(c *subscriptionConfig) error {
		if key == "" {
			return configurationError("empty extra option key supplied")
		}

		c.extra[key] = value

		return nil
	}
}

// Subscription binds a handler to one or more streams under one consumer-group identity.
// It is created by Context.Subscribe and runs as one worker once the Context is started.
type Subscription struct {
	name       string
	streams    []string
	handler    Handler
	config     subscriptionConfig
	pool       *Pool
	serializer Serializer
	obs        observer
	loop       *consumer
}

func newSubscription(
	name string,
	streams []string,
	handler Handler,
	pool *Pool,
	serializer Serializer,
	obs observer,
	options ...SubscribeOption,
) (*Subscription, error) {
	if name == "" {
		return nil, ErrEmptySubscriptionName
	}

	streams = normalizeStreams(streams)
	if len(streams) == 0 {
		return nil, ErrNoStreams
	}

	if handler == nil {
		return nil, ErrNilHandler
	}

	config := defaultSubscriptionConfig(name)

	for _, option := range options {
		if err := option(&config); err != nil {
			return nil, err
		}
	}

	if config.consumerName == "" {
		config.consumerName = generateConsumerName(config.key)
	}

	s := &Subscription{
		name:       name,
		streams:    streams,
		handler:    handler,
		config:     config,
		pool:       pool,
		serializer: serializer,
		obs:        obs.withTags(logAttrSubscription, name),
	}
	s.loop = newConsumer(s)

	return s, nil
}

// normalizeStreams drops empty and duplicate names while keeping the caller's order.
func normalizeStreams(streams []string) []string {
	seen := make(map[string]struct{}, len(streams))
	normalized := make([]string, 0, len(streams))

	for _, stream := range streams {
		if stream == "" {
			continue
		}

		if _, ok := seen[stream]; ok {
			continue
		}

		seen[stream] = struct{}{}
		normalized = append(normalized, stream)
	}

	return normalized
}

func generateConsumerName(key string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	return key + "-" + id.String()
}

// Name returns the subscription's identifier.
func (s *Subscription) Name() string { return s.name }

// Key returns the consumer-group identity.
func (s *Subscription) Key() string { return s.config.key }

// Consumer returns the consumer name used inside the group.
func (s *Subscription) Consumer() string { return s.config.consumerName }

// Streams returns a copy of the subscribed stream names.
func (s *Subscription) Streams() []string { return append([]string{}, s.streams...) }

// Extra returns an option attached with WithExtra.
func (s *Subscription) Extra(key string) (any, bool) {
	value, ok := s.config.extra[key]
	return value, ok
}

// Run executes the consumption loop until Stop is called or ctx is canceled.
// It returns nil after a stop and an error if the loop could not be set up.
// A panic in the handler is not recovered here; the Context's worker supervision deals with it.
func (s *Subscription) Run(ctx context.Context) error {
	return s.loop.run(ctx)
}

// Stop asks the consumption loop to finish. It is safe to call from any goroutine and more than once.
// It does not wait: the loop returns once the current read times out or the current message is handled.
func (s *Subscription) Stop() error {
	s.loop.stop()
	return nil
}

// Running reports whether the consumption loop is currently executing.
func (s *Subscription) Running() bool { return s.loop.running.Load() }

// Stopped reports whether Stop was called.
func (s *Subscription) Stopped() bool { return s.loop.isStopped() }
