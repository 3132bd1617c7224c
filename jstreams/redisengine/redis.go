package redisengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

const (
	newEntriesID  = ">"
	autoClaimFrom = "0-0"
	busyGroupErr  = "BUSYGROUP"
)

// NewContext creates a jstreams.Context whose pool dials the Redis server at storeURL.
// An empty storeURL means DefaultStoreURL.
func NewContext(storeURL string, options ...jstreams.Option) (*jstreams.Context, error) {
	dialer, err := NewDialer(storeURL)
	if err != nil {
		return nil, err
	}

	return jstreams.New(dialer, options...)
}

// NewDialer parses storeURL (redis:// or rediss://) and returns a Dialer that opens one Conn per call.
// The URL is validated here; the server is contacted only when the pool dials.
func NewDialer(storeURL string, options ...Option) (jstreams.Dialer, error) {
	if storeURL == "" {
		storeURL = DefaultStoreURL
	}

	redisOptions, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, errors.Join(jstreams.ErrConfiguration, fmt.Errorf("parsing store url: %w", err))
	}

	cfg := config{}
	for _, option := range options {
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	redisOptions.PoolSize = 1
	redisOptions.MinIdleConns = 0
	if cfg.dialTimeout > 0 {
		redisOptions.DialTimeout = cfg.dialTimeout
	}

	return func(ctx context.Context) (jstreams.Conn, error) {
		clientOptions := *redisOptions
		client := redis.NewClient(&clientOptions)

		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, storeError("ping", err)
		}

		return &Conn{client: client, maxLen: cfg.maxLen}, nil
	}, nil
}

// NewConn wraps an existing client. The Conn takes ownership and closes the client on Close.
func NewConn(client *redis.Client, options ...Option) (*Conn, error) {
	cfg := config{}
	for _, option := range options {
		if err := option(&cfg); err != nil {
			return nil, err
		}
	}

	return &Conn{client: client, maxLen: cfg.maxLen}, nil
}

// Conn is one jstreams connection backed by a single-connection go-redis client.
type Conn struct {
	client *redis.Client
	maxLen int64
}

// Append adds payload to stream with XADD and returns the entry ID Redis assigned.
func (c *Conn) Append(ctx context.Context, stream string, payload []byte) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]any{PayloadField: payload},
	}

	if c.maxLen > 0 {
		args.MaxLen = c.maxLen
		args.Approx = true
	}

	id, err := c.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", storeError("xadd", err)
	}

	return id, nil
}

// EnsureGroup creates the consumer group and, if needed, the stream. An existing group is left untouched.
func (c *Conn) EnsureGroup(ctx context.Context, stream, group, startID string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, startID).Err()
	if err != nil && !strings.HasPrefix(err.Error(), busyGroupErr) {
		return storeError("xgroup create", err)
	}

	return nil
}

// ReadGroup reads new entries of all requested streams with XREADGROUP, blocking up to req.Block.
// A read that times out returns no entries and no error.
func (c *Conn) ReadGroup(ctx context.Context, req jstreams.ReadRequest) ([]jstreams.Entry, error) {
	streams := make([]string, 0, 2*len(req.Streams))
	streams = append(streams, req.Streams...)
	for range req.Streams {
		streams = append(streams, newEntriesID)
	}

	args := &redis.XReadGroupArgs{
		Group:    req.Group,
		Consumer: req.Consumer,
		Streams:  streams,
		Count:    int64(req.Count),
		Block:    req.Block,
	}

	if req.Block <= 0 {
		args.Block = -1
	}

	result, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, storeError("xreadgroup", err)
	}

	var entries []jstreams.Entry
	for _, stream := range result {
		for _, message := range stream.Messages {
			entries = append(entries, toEntry(stream.Stream, message))
		}
	}

	return entries, nil
}

// Ack acknowledges ids with XACK.
func (c *Conn) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := c.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return storeError("xack", err)
	}

	return nil
}

// ClaimAbandoned takes over entries that were idle for at least req.MinIdle with XAUTOCLAIM.
// Entries that were deleted from the stream in the meantime are skipped.
func (c *Conn) ClaimAbandoned(ctx context.Context, req jstreams.ClaimRequest) ([]jstreams.Entry, error) {
	messages, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   req.Stream,
		Group:    req.Group,
		Consumer: req.Consumer,
		MinIdle:  req.MinIdle,
		Start:    autoClaimFrom,
		Count:    int64(req.Count),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, storeError("xautoclaim", err)
	}

	entries := make([]jstreams.Entry, 0, len(messages))
	for _, message := range messages {
		if message.Values == nil {
			continue
		}

		entries = append(entries, toEntry(req.Stream, message))
	}

	return entries, nil
}

// Close closes the underlying client.
func (c *Conn) Close() error {
	return c.client.Close()
}

func toEntry(stream string, message redis.XMessage) jstreams.Entry {
	entry := jstreams.Entry{ID: message.ID, Stream: stream}

	switch payload := message.Values[PayloadField].(type) {
	case string:
		entry.Payload = []byte(payload)
	case []byte:
		entry.Payload = payload
	}

	return entry
}

func storeError(command string, err error) error {
	return errors.Join(jstreams.ErrStore, fmt.Errorf("redis %s: %w", command, err))
}

var _ jstreams.Conn = (*Conn)(nil)
