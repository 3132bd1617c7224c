package jstreams

import (
	"context"
	"errors"
	"time"
)

// Publisher appends serialized messages to streams. It holds no state of its own besides its collaborators,
// so one instance is shared by every caller of Context.Publish.
type Publisher struct {
	pool       *Pool
	serializer Serializer
	obs        observer
}

// NewPublisher creates a Publisher bound to pool and serializer.
func NewPublisher(pool *Pool, serializer Serializer, logger Logger) *Publisher {
	return &Publisher{
		pool:       pool,
		serializer: serializer,
		obs:        observer{logger: logger},
	}
}

// Publish serializes message, checks out a connection, appends the payload to stream and releases the connection.
// It returns the ID the store assigned to the new entry.
//
// The append is a single store-side operation: either the whole entry is stored or nothing is.
func (p *Publisher) Publish(ctx context.Context, stream string, message any) (string, error) {
	if stream == "" {
		return "", ErrEmptyStreamName
	}

	ctx, span := p.obs.startSpan(ctx, spanNamePublish, map[string]string{spanAttrStream: stream})
	start := time.Now()

	payload, err := p.serializer.Encode(message)
	if err != nil {
		if !errors.Is(err, ErrSerialization) {
			err = errors.Join(ErrSerialization, err)
		}

		return "", p.publishFailed(ctx, span, stream, start, err)
	}

	var id string

	err = p.pool.With(ctx, func(conn Conn) error {
		var appendErr error
		id, appendErr = conn.Append(ctx, stream, payload)

		return appendErr
	})
	if err != nil {
		if !errors.Is(err, ErrStore) && !errors.Is(err, ErrPoolExhausted) && ctx.Err() == nil && !errors.Is(err, ErrContextClosed) {
			err = errors.Join(ErrStore, err)
		}

		return "", p.publishFailed(ctx, span, stream, start, err)
	}

	duration := time.Since(start)
	labels := map[string]string{labelStream: stream, labelStatus: statusSuccess}

	p.obs.recordDuration(ctx, metricPublishDuration, duration, labels)
	p.obs.incrementCounter(ctx, metricPublishedMessages, map[string]string{labelStream: stream})
	p.obs.debug(ctx, "message published", logAttrStream, stream, logAttrEntryID, id, logAttrDurationMS, toMilliseconds(duration))
	p.obs.finishSpan(span, statusSuccess, map[string]string{spanAttrEntryID: id})

	return id, nil
}

func (p *Publisher) publishFailed(ctx context.Context, span SpanContext, stream string, start time.Time, err error) error {
	errType := errorType(err)
	status := statusError

	if errType == errorTypeContextCancelled {
		status = statusCanceled
	}

	p.obs.recordDuration(ctx, metricPublishDuration, time.Since(start), map[string]string{labelStream: stream, labelStatus: status})
	p.obs.incrementCounter(ctx, metricPublishErrors, map[string]string{labelStream: stream, labelErrorType: errType})
	p.obs.error(ctx, "publishing message failed", err, logAttrStream, stream)
	p.obs.finishSpan(span, status, map[string]string{spanAttrErrorType: errType})

	return err
}
