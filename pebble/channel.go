// Package pebble provides a durable drain channel stored in a local Pebble database.
package pebble

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/velmie/drain"
)

const seqLen = 8

var (
	eventPrefix = []byte("e/")
	eventUpper  = []byte("e0")
)

var (
	// ErrDirRequired is returned when Open is called without a directory.
	ErrDirRequired = errors.New("drain pebble: directory is required")
	// ErrFull is returned by Put when the channel holds Capacity events.
	ErrFull = errors.New("drain pebble: channel is full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("drain pebble: channel is closed")
	// ErrTransactionDone is returned when a finished transaction is used.
	ErrTransactionDone = errors.New("drain pebble: transaction already finished")
)

// Config defines channel behavior.
type Config struct {
	// Capacity bounds the number of stored events. Zero means unbounded.
	Capacity int
	// Options is passed to pebble.Open. Nil uses Pebble defaults.
	Options *pebble.Options
}

// Option configures a Channel.
type Option func(*Config)

// WithCapacity bounds the number of stored events.
func WithCapacity(n int) Option {
	return func(c *Config) {
		c.Capacity = n
	}
}

// WithPebbleOptions overrides the options passed to pebble.Open.
func WithPebbleOptions(opts *pebble.Options) Option {
	return func(c *Config) {
		c.Options = opts
	}
}

// Channel is a drain.Channel whose events are keyed by an increasing sequence.
type Channel struct {
	db  *pebble.DB
	cfg Config

	mu       sync.Mutex
	seq      uint64
	size     int
	inFlight map[uint64]struct{}
	closed   bool
}

var _ drain.Channel = (*Channel)(nil)

type record struct {
	Headers map[string]string `json:"h,omitempty"`
	Body    []byte            `json:"b"`
}

// Open opens or creates a channel in dir and restores its sequence from disk.
func Open(dir string, opts ...Option) (*Channel, error) {
	if dir == "" {
		return nil, ErrDirRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Options == nil {
		cfg.Options = &pebble.Options{}
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
		return nil, fmt.Errorf("drain pebble: create dir failed: %w", err)
	}
	db, err := pebble.Open(dir, cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("drain pebble: open failed: %w", err)
	}

	ch := &Channel{db: db, cfg: cfg, inFlight: make(map[uint64]struct{})}
	if err := ch.restore(); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return ch, nil
}

func (c *Channel) restore() error {
	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: eventPrefix, UpperBound: eventUpper})
	if err != nil {
		return fmt.Errorf("drain pebble: iterator failed: %w", err)
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		c.size++
		if seq, valid := decodeKey(it.Key()); valid {
			c.seq = seq
		}
	}

	return it.Error()
}

// Put stores an event synchronously at the tail of the channel.
func (c *Channel) Put(ctx context.Context, event drain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(record{Headers: event.Headers, Body: event.Body})
	if err != nil {
		return fmt.Errorf("drain pebble: encode event failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.cfg.Capacity > 0 && c.size >= c.cfg.Capacity {
		return ErrFull
	}

	seq := c.seq + 1
	if err := c.db.Set(encodeKey(seq), value, pebble.Sync); err != nil {
		return fmt.Errorf("drain pebble: put failed: %w", err)
	}
	c.seq = seq
	c.size++

	return nil
}

// Len returns the number of stored events, including events held by open transactions.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Begin opens a transaction.
func (c *Channel) Begin(_ context.Context) (drain.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	return &transaction{channel: c}, nil
}

// Close closes the underlying database.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.db.Close()
}

// next claims the first stored event after seq that no other transaction holds.
func (c *Channel) next(after uint64) (uint64, drain.Event, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, drain.Event{}, false, ErrClosed
	}

	it, err := c.db.NewIter(&pebble.IterOptions{LowerBound: encodeKey(after + 1), UpperBound: eventUpper})
	if err != nil {
		return 0, drain.Event{}, false, fmt.Errorf("drain pebble: iterator failed: %w", err)
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		seq, valid := decodeKey(it.Key())
		if !valid {
			continue
		}
		if _, held := c.inFlight[seq]; held {
			continue
		}

		var rec record
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			return 0, drain.Event{}, false, drain.Permanent(fmt.Errorf("drain pebble: decode event %d failed: %w", seq, err))
		}
		c.inFlight[seq] = struct{}{}

		return seq, drain.Event{Headers: rec.Headers, Body: rec.Body}, true, nil
	}
	if err := it.Error(); err != nil {
		return 0, drain.Event{}, false, fmt.Errorf("drain pebble: iterate failed: %w", err)
	}

	return 0, drain.Event{}, false, nil
}

func (c *Channel) remove(seqs []uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	batch := c.db.NewBatch()
	defer batch.Close()
	for _, seq := range seqs {
		if err := batch.Delete(encodeKey(seq), nil); err != nil {
			return fmt.Errorf("drain pebble: delete failed: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("drain pebble: commit failed: %w", err)
	}

	for _, seq := range seqs {
		delete(c.inFlight, seq)
	}
	c.size -= len(seqs)

	return nil
}

func (c *Channel) release(seqs []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, seq := range seqs {
		delete(c.inFlight, seq)
	}
}

func encodeKey(seq uint64) []byte {
	key := make([]byte, len(eventPrefix)+seqLen)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], seq)

	return key
}

func decodeKey(key []byte) (uint64, bool) {
	if len(key) != len(eventPrefix)+seqLen {
		return 0, false
	}

	return binary.BigEndian.Uint64(key[len(eventPrefix):]), true
}

type transaction struct {
	channel *Channel
	cursor  uint64
	taken   []uint64
	done    bool
}

func (t *transaction) Take(ctx context.Context) (drain.Event, bool, error) {
	if t.done {
		return drain.Event{}, false, ErrTransactionDone
	}
	if err := ctx.Err(); err != nil {
		return drain.Event{}, false, err
	}

	seq, event, ok, err := t.channel.next(t.cursor)
	if err != nil || !ok {
		return drain.Event{}, false, err
	}
	t.cursor = seq
	t.taken = append(t.taken, seq)

	return event, true, nil
}

func (t *transaction) Commit(_ context.Context) error {
	if t.done {
		return ErrTransactionDone
	}
	if len(t.taken) > 0 {
		if err := t.channel.remove(t.taken); err != nil {
			return err
		}
	}
	t.done = true
	t.taken = nil

	return nil
}

func (t *transaction) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.channel.release(t.taken)
	t.taken = nil

	return nil
}

func (t *transaction) Close() error {
	if t.done {
		return nil
	}

	return t.Rollback(context.Background())
}
