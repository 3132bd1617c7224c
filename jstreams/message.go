package jstreams

import (
	"context"
	"errors"
)

// Message is what a Handler receives: one decoded store entry.
type Message struct {
	ID           string
	Stream       string
	Subscription string
	Payload      any
	Raw          []byte

	serializer Serializer
}

// IntoDecoder is implemented by serializers that can decode straight into a typed target.
type IntoDecoder interface {
	DecodeInto(payload []byte, target any) error
}

// Bind decodes the raw payload into target when the configured serializer supports typed decoding.
func (m Message) Bind(target any) error {
	decoder, ok := m.serializer.(IntoDecoder)
	if !ok {
		return errors.Join(ErrSerialization, errors.New("serializer does not support typed decoding"))
	}

	return decoder.DecodeInto(m.Raw, target)
}

// Handler processes one message. Returning nil acknowledges the message,
// returning an error leaves it pending so it can be reclaimed and retried later.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f(ctx, msg).
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
