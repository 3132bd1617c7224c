package jstreams

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errSubscriptionRunning = errors.New("subscription is already running")

// consumer is the poll/dispatch loop behind a Subscription.
type consumer struct {
	sub      *Subscription
	stopCh   chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

func newConsumer(sub *Subscription) *consumer {
	return &consumer{
		sub:    sub,
		stopCh: make(chan struct{}),
	}
}

func (c *consumer) stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *consumer) isStopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// run reads with a context that Stop cancels, so a blocked read returns at once.
// Handlers and acks use the caller's ctx so that a message already being handled is finished and acknowledged.
// Failing to create the consumer groups or to read is retried after the error backoff until the consumer is stopped.
func (c *consumer) run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errSubscriptionRunning
	}
	defer c.running.Store(false)

	if c.isStopped() {
		return nil
	}

	readCtx, cancelReads := context.WithCancel(ctx)
	defer cancelReads()

	go func() {
		select {
		case <-c.stopCh:
			cancelReads()
		case <-readCtx.Done():
		}
	}()

	s := c.sub
	s.obs.info(ctx, "subscription starting",
		logAttrKey, s.config.key,
		logAttrConsumer, s.config.consumerName,
		logAttrStreams, s.streams)

	for {
		err := c.ensureGroups(readCtx)
		if err == nil {
			break
		}

		if c.done(readCtx) {
			return nil
		}

		s.obs.warn(ctx, "creating consumer groups failed", err)
		s.obs.incrementCounter(ctx, metricReadErrors, map[string]string{
			labelSubscription: s.name,
			labelErrorType:    errorType(err),
		})
		c.backoff(readCtx)
	}

	var lastClaim time.Time

	for !c.done(readCtx) {
		if s.config.abandonedCheckInterval > 0 && time.Since(lastClaim) >= s.config.abandonedCheckInterval {
			c.reclaimAbandoned(ctx, readCtx)
			lastClaim = time.Now()
		}

		entries, err := c.read(readCtx)
		if err != nil {
			if c.done(readCtx) {
				break
			}

			s.obs.warn(ctx, "reading from streams failed", err)
			s.obs.incrementCounter(ctx, metricReadErrors, map[string]string{
				labelSubscription: s.name,
				labelErrorType:    errorType(err),
			})
			c.backoff(readCtx)

			continue
		}

		for _, entry := range entries {
			c.process(ctx, entry)
		}
	}

	s.obs.info(ctx, "subscription stopped", logAttrKey, s.config.key)

	return nil
}

func (c *consumer) done(readCtx context.Context) bool {
	return c.isStopped() || readCtx.Err() != nil
}

func (c *consumer) backoff(readCtx context.Context) {
	timer := time.NewTimer(c.sub.config.errorBackoff)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-readCtx.Done():
	}
}

func (c *consumer) ensureGroups(ctx context.Context) error {
	s := c.sub

	return s.pool.With(ctx, func(conn Conn) error {
		for _, stream := range s.streams {
			if err := conn.EnsureGroup(ctx, stream, s.config.key, s.config.startID); err != nil {
				return err
			}
		}

		return nil
	})
}

func (c *consumer) read(readCtx context.Context) ([]Entry, error) {
	s := c.sub

	var entries []Entry

	err := s.pool.With(readCtx, func(conn Conn) error {
		var readErr error
		entries, readErr = conn.ReadGroup(readCtx, ReadRequest{
			Streams:  s.streams,
			Group:    s.config.key,
			Consumer: s.config.consumerName,
			Count:    s.config.batchSize,
			Block:    s.config.blockTimeout,
		})

		return readErr
	})

	return entries, err
}

func (c *consumer) reclaimAbandoned(ctx, readCtx context.Context) {
	s := c.sub

	for _, stream := range s.streams {
		if c.done(readCtx) {
			return
		}

		var claimed []Entry

		err := s.pool.With(readCtx, func(conn Conn) error {
			var claimErr error
			claimed, claimErr = conn.ClaimAbandoned(readCtx, ClaimRequest{
				Stream:   stream,
				Group:    s.config.key,
				Consumer: s.config.consumerName,
				MinIdle:  s.config.abandonedIdleTimeout,
				Count:    s.config.batchSize,
			})

			return claimErr
		})
		if err != nil {
			if !c.done(readCtx) {
				s.obs.warn(ctx, "reclaiming abandoned messages failed", err, logAttrStream, stream)
			}

			return
		}

		if len(claimed) > 0 {
			s.obs.info(ctx, "reclaimed abandoned messages", logAttrStream, stream, logAttrCount, len(claimed))
		}

		for _, entry := range claimed {
			s.obs.incrementCounter(ctx, metricReclaimedMessages, map[string]string{
				labelSubscription: s.name,
				labelStream:       stream,
			})
			c.process(ctx, entry)
		}
	}
}

// process decodes one entry, hands it to the handler and acknowledges it on success.
func (c *consumer) process(ctx context.Context, entry Entry) {
	s := c.sub
	msg := Message{
		ID:           entry.ID,
		Stream:       entry.Stream,
		Subscription: s.name,
		Raw:          entry.Payload,
		serializer:   s.serializer,
	}

	decoded, err := s.serializer.Decode(entry.Payload)
	if err != nil {
		if !errors.Is(err, ErrSerialization) {
			err = errors.Join(ErrSerialization, err)
		}

		c.handleError(ctx, msg, err)

		return
	}

	msg.Payload = decoded

	handleCtx, span := s.obs.startSpan(ctx, spanNameHandle, map[string]string{
		spanAttrSubscription: s.name,
		spanAttrStream:       entry.Stream,
		spanAttrEntryID:      entry.ID,
	})
	start := time.Now()

	if handleErr := s.handler.Handle(handleCtx, msg); handleErr != nil {
		s.obs.recordDuration(ctx, metricHandleDuration, time.Since(start), c.labels(entry.Stream, statusError))
		s.obs.finishSpan(span, statusError, map[string]string{spanAttrErrorType: errorTypeHandler})
		c.handleError(ctx, msg, handleErr)

		return
	}

	s.obs.recordDuration(ctx, metricHandleDuration, time.Since(start), c.labels(entry.Stream, statusSuccess))
	s.obs.incrementCounter(ctx, metricHandledMessages, map[string]string{
		labelSubscription: s.name,
		labelStream:       entry.Stream,
	})
	s.obs.finishSpan(span, statusSuccess, nil)

	ackErr := s.pool.With(ctx, func(conn Conn) error {
		return conn.Ack(ctx, entry.Stream, s.config.key, entry.ID)
	})
	if ackErr != nil {
		s.obs.warn(ctx, "acknowledging message failed", ackErr, logAttrStream, entry.Stream, logAttrEntryID, entry.ID)
		return
	}

	s.obs.debug(ctx, "message handled",
		logAttrStream, entry.Stream,
		logAttrEntryID, entry.ID,
		logAttrDurationMS, toMilliseconds(time.Since(start)))
}

func (c *consumer) handleError(ctx context.Context, msg Message, err error) {
	s := c.sub
	s.obs.incrementCounter(ctx, metricHandlerErrors, map[string]string{
		labelSubscription: s.name,
		labelStream:       msg.Stream,
		labelErrorType:    errorType(err),
	})

	if s.config.errorHandler != nil {
		s.config.errorHandler(ctx, msg, err)
		return
	}

	s.obs.error(ctx, "handling message failed", err, logAttrStream, msg.Stream, logAttrEntryID, msg.ID)
}

func (c *consumer) labels(stream, status string) map[string]string {
	return map[string]string{
		labelSubscription: c.sub.name,
		labelStream:       stream,
		labelStatus:       status,
	}
}
