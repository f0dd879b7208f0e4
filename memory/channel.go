// Package memory provides a bounded in-process drain channel.
//
// Events are lost when the process exits; use the mysql or pebble channels
// when events must survive a restart.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/velmie/drain"
)

// Defaults applied when a limit is not set.
const (
	DefaultCapacity            = 100
	DefaultTransactionCapacity = 100
)

var (
	// ErrFull is returned by Put when queued plus in-flight events reach the capacity.
	ErrFull = errors.New("drain memory: channel is full")
	// ErrTransactionCapacity is returned by Take, wrapped by drain.Permanent, when a
	// transaction already holds the maximum number of events. Retrying the same
	// batch size cannot succeed.
	ErrTransactionCapacity = errors.New("drain memory: transaction capacity exceeded")
	// ErrTransactionDone is returned when a finished transaction is used.
	ErrTransactionDone = errors.New("drain memory: transaction already finished")
)

// Config defines channel limits.
type Config struct {
	// Capacity bounds queued and in-flight events together.
	Capacity int
	// TransactionCapacity bounds the events taken by one transaction.
	TransactionCapacity int
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.TransactionCapacity <= 0 {
		c.TransactionCapacity = DefaultTransactionCapacity
	}

	return c
}

// Option configures a Channel.
type Option func(*Config)

// WithCapacity sets the maximum number of queued plus in-flight events.
func WithCapacity(n int) Option {
	return func(c *Config) {
		c.Capacity = n
	}
}

// WithTransactionCapacity sets the maximum number of events one transaction may take.
func WithTransactionCapacity(n int) Option {
	return func(c *Config) {
		c.TransactionCapacity = n
	}
}

// Channel is a FIFO drain.Channel held in memory.
type Channel struct {
	cfg Config

	mu       sync.Mutex
	queue    []drain.Event
	inFlight int
}

var _ drain.Channel = (*Channel)(nil)

// NewChannel constructs an empty channel.
func NewChannel(opts ...Option) *Channel {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Channel{cfg: cfg}
}

// Put appends an event to the tail of the queue.
func (c *Channel) Put(ctx context.Context, event drain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue)+c.inFlight >= c.cfg.Capacity {
		return ErrFull
	}
	c.queue = append(c.queue, event)

	return nil
}

// Len returns the number of queued events, excluding events held by open transactions.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue)
}

// InFlight returns the number of events held by open transactions.
func (c *Channel) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inFlight
}

// Begin opens a transaction.
func (c *Channel) Begin(_ context.Context) (drain.Transaction, error) {
	return &transaction{channel: c}, nil
}

func (c *Channel) pop() (drain.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return drain.Event{}, false
	}
	event := c.queue[0]
	c.queue[0] = drain.Event{}
	c.queue = c.queue[1:]
	c.inFlight++

	return event, true
}

func (c *Channel) release(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight -= count
}

// requeue puts events back at the head of the queue in their original order.
func (c *Channel) requeue(events []drain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := make([]drain.Event, 0, len(events)+len(c.queue))
	queue = append(queue, events...)
	queue = append(queue, c.queue...)
	c.queue = queue
	c.inFlight -= len(events)
}

type transaction struct {
	channel *Channel
	taken   []drain.Event
	done    bool
}

func (t *transaction) Take(ctx context.Context) (drain.Event, bool, error) {
	if t.done {
		return drain.Event{}, false, ErrTransactionDone
	}
	if err := ctx.Err(); err != nil {
		return drain.Event{}, false, err
	}
	if len(t.taken) >= t.channel.cfg.TransactionCapacity {
		return drain.Event{}, false, drain.Permanent(ErrTransactionCapacity)
	}

	event, ok := t.channel.pop()
	if !ok {
		return drain.Event{}, false, nil
	}
	t.taken = append(t.taken, event)

	return event, true, nil
}

func (t *transaction) Commit(_ context.Context) error {
	if t.done {
		return ErrTransactionDone
	}
	t.done = true
	t.channel.release(len(t.taken))
	t.taken = nil

	return nil
}

func (t *transaction) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.channel.requeue(t.taken)
	t.taken = nil

	return nil
}

func (t *transaction) Close() error {
	if t.done {
		return nil
	}

	return t.Rollback(context.Background())
}
