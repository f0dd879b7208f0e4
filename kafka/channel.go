// Package kafka provides a drain channel backed by a Kafka consumer group.
//
// A transaction fetches messages without committing them. Commit commits
// their offsets. Rollback closes the reader and opens a new one, so the
// group resumes from the last committed offset and the messages are
// delivered again.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/velmie/drain"
)

const defaultPollTimeout = 100 * time.Millisecond

// Header keys set from message metadata unless the message carries them itself.
const (
	HeaderTopic     = "topic"
	HeaderPartition = "partition"
	HeaderOffset    = "offset"
	HeaderKey       = "key"
	HeaderTimestamp = "timestamp"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("drain kafka: channel is closed")
	// ErrTransactionDone is returned when a finished transaction is used.
	ErrTransactionDone = errors.New("drain kafka: transaction already finished")
)

// Reader is the subset of *kafkago.Reader used by the channel.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ReaderFactory creates a consumer-group reader for cfg.
type ReaderFactory func(cfg Config) Reader

// Config defines the consumer group read by the channel.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	// StartOffset applies when the group has no committed offset.
	// Defaults to kafkago.FirstOffset.
	StartOffset int64
	// PollTimeout bounds how long Take waits for a message before
	// reporting the channel as empty.
	PollTimeout time.Duration
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("%w: kafka brokers are required", drain.ErrConfiguration)
	}
	if c.Topic == "" {
		return fmt.Errorf("%w: kafka topic is required", drain.ErrConfiguration)
	}
	if c.GroupID == "" {
		return fmt.Errorf("%w: kafka group id is required", drain.ErrConfiguration)
	}

	return nil
}

func (c Config) withDefaults() Config {
	if c.StartOffset == 0 {
		c.StartOffset = kafkago.FirstOffset
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}

	return c
}

// Option configures a Channel.
type Option func(*Channel)

// WithReaderFactory overrides how readers are created.
func WithReaderFactory(factory ReaderFactory) Option {
	return func(c *Channel) {
		c.newReader = factory
	}
}

// WithLogger sets the channel logger.
func WithLogger(logger drain.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// Channel is a drain.Channel reading one topic as one consumer-group member.
// Transactions are serialized: Begin waits until the previous one is closed.
type Channel struct {
	cfg       Config
	newReader ReaderFactory
	logger    drain.Logger

	// sem is held by the open transaction.
	sem chan struct{}

	mu     sync.Mutex
	reader Reader
	closed bool
}

var _ drain.Channel = (*Channel)(nil)

// NewChannel validates cfg and opens the first reader.
func NewChannel(cfg Config, opts ...Option) (*Channel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ch := &Channel{
		cfg:       cfg.withDefaults(),
		newReader: newKafkaReader,
		logger:    drain.NopLogger{},
		sem:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(ch)
	}
	ch.reader = ch.newReader(ch.cfg)

	return ch, nil
}

func newKafkaReader(cfg Config) Reader {
	return kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		CommitInterval: 0, // Manual commits
		StartOffset:    cfg.StartOffset,
	})
}

// Begin waits for the previous transaction to close and opens a new one.
func (c *Channel) Begin(ctx context.Context) (drain.Transaction, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		<-c.sem

		return nil, ErrClosed
	}

	return &transaction{channel: c}, nil
}

// Close closes the current reader.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.reader.Close()
}

func (c *Channel) currentReader() (Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	return c.reader, nil
}

// rewind replaces the reader so uncommitted messages are fetched again.
func (c *Channel) rewind() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	closeErr := c.reader.Close()
	c.reader = c.newReader(c.cfg)
	if closeErr != nil {
		c.logger.Warn("drain kafka reader close failed", "topic", c.cfg.Topic, "err", closeErr)
	}

	return nil
}

func (c *Channel) release() {
	<-c.sem
}

func toEvent(msg kafkago.Message) drain.Event {
	headers := make(map[string]string, len(msg.Headers)+5)
	headers[HeaderTopic] = msg.Topic
	headers[HeaderPartition] = strconv.Itoa(msg.Partition)
	headers[HeaderOffset] = strconv.FormatInt(msg.Offset, 10)
	if len(msg.Key) > 0 {
		headers[HeaderKey] = string(msg.Key)
	}
	if !msg.Time.IsZero() {
		headers[HeaderTimestamp] = strconv.FormatInt(msg.Time.UnixMilli(), 10)
	}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	return drain.Event{Headers: headers, Body: msg.Value}
}

type transaction struct {
	channel *Channel
	taken   []kafkago.Message
	done    bool
	closed  bool
}

func (t *transaction) Take(ctx context.Context) (drain.Event, bool, error) {
	if t.done {
		return drain.Event{}, false, ErrTransactionDone
	}

	reader, err := t.channel.currentReader()
	if err != nil {
		return drain.Event{}, false, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, t.channel.cfg.PollTimeout)
	defer cancel()

	msg, err := reader.FetchMessage(pollCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return drain.Event{}, false, nil
		}

		return drain.Event{}, false, fmt.Errorf("drain kafka: fetch failed: %w", err)
	}
	t.taken = append(t.taken, msg)

	return toEvent(msg), true, nil
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return ErrTransactionDone
	}
	if len(t.taken) > 0 {
		reader, err := t.channel.currentReader()
		if err != nil {
			return err
		}
		if err := reader.CommitMessages(ctx, t.taken...); err != nil {
			return fmt.Errorf("drain kafka: commit failed: %w", err)
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
	if len(t.taken) == 0 {
		return nil
	}
	t.taken = nil

	return t.channel.rewind()
}

func (t *transaction) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	var err error
	if !t.done {
		err = t.Rollback(context.Background())
	}
	t.channel.release()

	return err
}
