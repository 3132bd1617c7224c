package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AntonStoeckl/jstreams-go/jstreams"
)

var (
	ErrNoGroup    = errors.New("NOGROUP no such consumer group")
	ErrConnClosed = errors.New("connection is closed")
)

// Store is an in-memory stream store shared by all connections it dials.
type Store struct {
	mu      sync.Mutex
	streams map[string]*stream
	seq     int64
	arrived chan struct{}

	appendErr error

	appends   atomic.Int64
	reads     atomic.Int64
	acks      atomic.Int64
	dials     atomic.Int64
	openConns atomic.Int64
}

type stream struct {
	entries []jstreams.Entry
	groups  map[string]*group
}

type group struct {
	next    int
	pending map[string]*pendingEntry
}

type pendingEntry struct {
	entry       jstreams.Entry
	consumer    string
	deliveredAt time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		streams: make(map[string]*stream),
		arrived: make(chan struct{}),
	}
}

// Dialer returns a jstreams.Dialer that opens connections to this Store.
func (s *Store) Dialer() jstreams.Dialer {
	return func(_ context.Context) (jstreams.Conn, error) {
		s.dials.Add(1)
		s.openConns.Add(1)

		return &Conn{store: s}, nil
	}
}

// FailAppendsWith makes every following Append fail with err; nil restores normal behavior.
func (s *Store) FailAppendsWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// Appends returns how many entries were appended successfully.
func (s *Store) Appends() int64 { return s.appends.Load() }

// Reads returns how many ReadGroup calls were served.
func (s *Store) Reads() int64 { return s.reads.Load() }

// Acks returns how many entries were acknowledged.
func (s *Store) Acks() int64 { return s.acks.Load() }

// Dials returns how many connections were opened.
func (s *Store) Dials() int64 { return s.dials.Load() }

// OpenConns returns how many connections are open right now.
func (s *Store) OpenConns() int64 { return s.openConns.Load() }

// Entries returns a copy of all entries of a stream.
func (s *Store) Entries(name string) []jstreams.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[name]
	if !ok {
		return nil
	}

	return append([]jstreams.Entry{}, st.entries...)
}

// Pending returns how many entries of the group on stream were delivered but not acknowledged.
func (s *Store) Pending(name, groupName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[name]
	if !ok {
		return 0
	}

	g, ok := st.groups[groupName]
	if !ok {
		return 0
	}

	return len(g.pending)
}

// HasGroup reports whether the consumer group exists on stream.
func (s *Store) HasGroup(name, groupName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[name]
	if !ok {
		return false
	}

	_, ok = st.groups[groupName]

	return ok
}

func (s *Store) streamLocked(name string) *stream {
	st, ok := s.streams[name]
	if !ok {
		st = &stream{groups: make(map[string]*group)}
		s.streams[name] = st
	}

	return st
}

func (s *Store) append(name string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		return "", errors.Join(jstreams.ErrStore, s.appendErr)
	}

	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	st := s.streamLocked(name)
	st.entries = append(st.entries, jstreams.Entry{
		ID:      id,
		Stream:  name,
		Payload: append([]byte{}, payload...),
	})
	s.appends.Add(1)

	close(s.arrived)
	s.arrived = make(chan struct{})

	return id, nil
}

func (s *Store) ensureGroup(name, groupName, startID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.streamLocked(name)
	if _, ok := st.groups[groupName]; ok {
		return
	}

	next := 0
	if startID == jstreams.StartNewest {
		next = len(st.entries)
	}

	st.groups[groupName] = &group{next: next, pending: make(map[string]*pendingEntry)}
}

// deliver hands out new entries to the consumer and returns a channel that is closed on the next append.
func (s *Store) deliver(req jstreams.ReadRequest) ([]jstreams.Entry, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delivered []jstreams.Entry

	for _, name := range req.Streams {
		st, ok := s.streams[name]
		if !ok {
			return nil, nil, errors.Join(jstreams.ErrStore, ErrNoGroup)
		}

		g, ok := st.groups[req.Group]
		if !ok {
			return nil, nil, errors.Join(jstreams.ErrStore, ErrNoGroup)
		}

		for g.next < len(st.entries) && (req.Count <= 0 || len(delivered) < req.Count) {
			entry := st.entries[g.next]
			g.next++
			g.pending[entry.ID] = &pendingEntry{entry: entry, consumer: req.Consumer, deliveredAt: time.Now()}
			delivered = append(delivered, entry)
		}
	}

	return delivered, s.arrived, nil
}

func (s *Store) ack(name, groupName string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[name]
	if !ok {
		return errors.Join(jstreams.ErrStore, ErrNoGroup)
	}

	g, ok := st.groups[groupName]
	if !ok {
		return errors.Join(jstreams.ErrStore, ErrNoGroup)
	}

	for _, id := range ids {
		if _, pending := g.pending[id]; pending {
			delete(g.pending, id)
			s.acks.Add(1)
		}
	}

	return nil
}

func (s *Store) claim(req jstreams.ClaimRequest) ([]jstreams.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[req.Stream]
	if !ok {
		return nil, errors.Join(jstreams.ErrStore, ErrNoGroup)
	}

	g, ok := st.groups[req.Group]
	if !ok {
		return nil, errors.Join(jstreams.ErrStore, ErrNoGroup)
	}

	var claimed []jstreams.Entry

	now := time.Now()
	for _, entry := range st.entries {
		if req.Count > 0 && len(claimed) >= req.Count {
			break
		}

		p, ok := g.pending[entry.ID]
		if !ok || now.Sub(p.deliveredAt) < req.MinIdle {
			continue
		}

		p.consumer = req.Consumer
		p.deliveredAt = now
		claimed = append(claimed, p.entry)
	}

	return claimed, nil
}

// Conn is one connection to a Store.
type Conn struct {
	store  *Store
	closed atomic.Bool
}

func (c *Conn) Append(_ context.Context, name string, payload []byte) (string, error) {
	if c.closed.Load() {
		return "", errors.Join(jstreams.ErrStore, ErrConnClosed)
	}

	return c.store.append(name, payload)
}

func (c *Conn) EnsureGroup(_ context.Context, name, groupName, startID string) error {
	if c.closed.Load() {
		return errors.Join(jstreams.ErrStore, ErrConnClosed)
	}

	c.store.ensureGroup(name, groupName, startID)

	return nil
}

// ReadGroup waits up to req.Block for new entries, like XREADGROUP ... BLOCK.
func (c *Conn) ReadGroup(ctx context.Context, req jstreams.ReadRequest) ([]jstreams.Entry, error) {
	if c.closed.Load() {
		return nil, errors.Join(jstreams.ErrStore, ErrConnClosed)
	}

	c.store.reads.Add(1)

	var timeout <-chan time.Time
	if req.Block > 0 {
		timer := time.NewTimer(req.Block)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		entries, arrived, err := c.store.deliver(req)
		if err != nil || len(entries) > 0 || req.Block <= 0 {
			return entries, err
		}

		select {
		case <-arrived:
		case <-timeout:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Conn) Ack(_ context.Context, name, groupName string, ids ...string) error {
	if c.closed.Load() {
		return errors.Join(jstreams.ErrStore, ErrConnClosed)
	}

	return c.store.ack(name, groupName, ids)
}

func (c *Conn) ClaimAbandoned(_ context.Context, req jstreams.ClaimRequest) ([]jstreams.Entry, error) {
	if c.closed.Load() {
		return nil, errors.Join(jstreams.ErrStore, ErrConnClosed)
	}

	return c.store.claim(req)
}

func (c *Conn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.store.openConns.Add(-1)
	}

	return nil
}

var _ jstreams.Conn = (*Conn)(nil)
