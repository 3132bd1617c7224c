package jstreams

import (
	"context"
	"time"
)

// Entry is one stored message as the store hands it back: its store-assigned ID, its stream and the raw payload.
type Entry struct {
	ID      string
	Stream  string
	Payload []byte
}

// ReadRequest describes one consumer-group read across one or more streams.
type ReadRequest struct {
	Streams  []string
	Group    string
	Consumer string
	Count    int
	Block    time.Duration
}

// ClaimRequest describes a takeover of entries that were delivered to some consumer of Group
// but have not been acknowledged for at least MinIdle.
type ClaimRequest struct {
	Stream   string
	Group    string
	Consumer string
	MinIdle  time.Duration
	Count    int
}

// Conn is one connection to the stream store.
//
// A Conn is used by one goroutine at a time: the Pool hands it out exclusively.
// Engines return errors wrapped with ErrStore for anything that went wrong on the store side.
type Conn interface {
	// Append adds payload as a new entry at the end of stream and returns the entry ID.
	Append(ctx context.Context, stream string, payload []byte) (string, error)

	// EnsureGroup creates the consumer group on stream if it does not exist yet.
	// startID decides where a new group starts reading ("$" = only new entries, "0" = from the beginning).
	EnsureGroup(ctx context.Context, stream, group, startID string) error

	// ReadGroup returns up to Count new entries for the group, waiting at most Block for them to arrive.
	// An empty result with a nil error means nothing arrived in time.
	ReadGroup(ctx context.Context, req ReadRequest) ([]Entry, error)

	// Ack marks entries as processed by the group.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// ClaimAbandoned transfers idle pending entries to the requesting consumer and returns them.
	ClaimAbandoned(ctx context.Context, req ClaimRequest) ([]Entry, error)

	Close() error
}

// Dialer opens a new store connection. The Pool calls it whenever it needs to grow.
type Dialer func(ctx context.Context) (Conn, error)
