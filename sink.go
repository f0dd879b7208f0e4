package drain

import (
	"context"
	"fmt"
	"sync"
)

// Sink drains a Channel into a Store in transactional batches.
//
// Each DrainOnce call is one cycle: the events taken from the channel are
// either all written to the store and committed, or the channel transaction
// is rolled back and they stay queued.
type Sink[T any] struct {
	channel Channel
	store   Store[T]
	parse   ParseFunc[T]
	cfg     SinkConfig

	// mu serializes lifecycle calls with drain cycles, so Stop waits for a
	// running cycle to finish.
	mu      sync.Mutex
	running bool
}

// NewSink constructs a Sink with defaults and optional settings.
func NewSink[T any](channel Channel, store Store[T], parse ParseFunc[T], opts ...Option) (*Sink[T], error) {
	if channel == nil {
		return nil, fmt.Errorf("%w: channel is required", ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrConfiguration)
	}
	if parse == nil {
		return nil, fmt.Errorf("%w: parse func is required", ErrConfiguration)
	}

	var cfg SinkConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BatchSize < 0 || (cfg.batchSizeSet && cfg.BatchSize == 0) {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", ErrConfiguration, cfg.BatchSize)
	}
	cfg = cfg.withDefaults()

	return &Sink[T]{
		channel: channel,
		store:   store,
		parse:   parse,
		cfg:     cfg,
	}, nil
}

// Name returns the configured sink name.
func (s *Sink[T]) Name() string {
	return s.cfg.Name
}

// BatchSize returns the maximum number of events drained per cycle.
func (s *Sink[T]) BatchSize() int {
	return s.cfg.BatchSize
}

// Counters returns the counters updated by this sink.
func (s *Sink[T]) Counters() *Counters {
	return s.cfg.Counters
}

// Start opens the store. On failure the sink stays stopped and Start may be retried.
func (s *Sink[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	s.cfg.Logger.Info("drain sink starting", "sink", s.cfg.Name, "batch_size", s.cfg.BatchSize)
	if err := s.store.Start(ctx); err != nil {
		s.cfg.Counters.connectionFailed.Add(1)
		s.cfg.Logger.Error("drain sink store start failed", "sink", s.cfg.Name, "err", err)

		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	s.cfg.Counters.connectionCreated.Add(1)
	s.running = true
	s.cfg.Logger.Info("drain sink started", "sink", s.cfg.Name)

	return nil
}

// Stop closes the store. Only the first Stop after a successful Start has an effect.
func (s *Sink[T]) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.cfg.Logger.Info("drain sink stopping", "sink", s.cfg.Name)
	err := s.store.Stop(ctx)
	s.cfg.Counters.connectionClosed.Add(1)
	if err != nil {
		s.cfg.Logger.Warn("drain sink store stop failed", "sink", s.cfg.Name, "err", err)

		return fmt.Errorf("drain: stop store: %w", err)
	}
	s.cfg.Logger.Info("drain sink stopped", "sink", s.cfg.Name)

	return nil
}

// DrainOnce runs a single drain cycle.
//
// It returns Ready when a full batch was written and Backoff when the channel
// could not fill one. A failed cycle returns a *DeliveryError after the
// channel transaction has been rolled back.
func (s *Sink[T]) DrainOnce(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return Backoff, ErrNotRunning
	}

	start := s.cfg.Clock.Now()
	tx, err := s.channel.Begin(ctx)
	if err == nil && tx == nil {
		err = ErrNilTransaction
	}
	if err != nil {
		derr := newDeliveryError(OpBegin, err)
		s.cfg.Logger.Error("drain transaction begin failed", "sink", s.cfg.Name, "err", err)

		return Backoff, derr
	}
	defer s.closeTx(tx)

	status, count, op, err := s.drain(ctx, tx)
	if err != nil {
		s.rollback(ctx, tx)
		derr := newDeliveryError(op, err)
		s.cfg.Logger.Error("drain cycle failed, transaction rolled back",
			"sink", s.cfg.Name,
			"op", string(op),
			"count", count,
			"recoverable", derr.Recoverable,
			"err", err,
		)

		return Backoff, derr
	}

	s.cfg.Counters.drainSuccess.Add(int64(count))
	s.cfg.Metrics.ObserveBatchDuration(s.cfg.Clock.Now().Sub(start))
	s.cfg.Metrics.ObserveBatchSize(count)
	if count > 0 {
		s.cfg.Logger.Debug("drain cycle committed", "sink", s.cfg.Name, "count", count, "status", status.String())
	}

	return status, nil
}

func (s *Sink[T]) drain(ctx context.Context, tx Transaction) (status Status, count int, op Op, err error) {
	op = OpTake
	defer func() {
		if rec := recover(); rec != nil {
			status = Backoff
			err = fmt.Errorf("%w: %v", ErrPanic, rec)
		}
	}()

	records := make([]T, 0, s.cfg.BatchSize)
	for len(records) < s.cfg.BatchSize {
		op = OpTake
		event, ok, takeErr := tx.Take(ctx)
		if takeErr != nil {
			return Backoff, len(records), op, takeErr
		}
		if !ok {
			break
		}

		op = OpParse
		record, parseErr := s.parse(event)
		if parseErr != nil {
			return Backoff, len(records), op, &ParseError{Index: len(records), Err: parseErr}
		}
		records = append(records, record)
	}

	count = len(records)
	switch {
	case count == 0:
		s.cfg.Counters.batchEmpty.Add(1)
		status = Backoff
	case count < s.cfg.BatchSize:
		s.cfg.Counters.batchUnderflow.Add(1)
		status = Backoff
	default:
		s.cfg.Counters.batchComplete.Add(1)
		status = Ready
	}

	if count > 0 {
		s.cfg.Counters.drainAttempt.Add(int64(count))
		op = OpWrite
		if writeErr := s.store.BulkInsert(ctx, records); writeErr != nil {
			return Backoff, count, op, writeErr
		}
	}

	op = OpCommit
	if commitErr := tx.Commit(ctx); commitErr != nil {
		return Backoff, count, op, commitErr
	}

	return status, count, op, nil
}

// rollback never lets its own failure replace the error that caused it.
func (s *Sink[T]) rollback(ctx context.Context, tx Transaction) {
	defer func() {
		if rec := recover(); rec != nil {
			s.cfg.Counters.rollbackFailed.Add(1)
			s.cfg.Logger.Error("drain transaction rollback panic", "sink", s.cfg.Name, "panic", rec)
		}
	}()

	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		s.cfg.Counters.rollbackFailed.Add(1)
		s.cfg.Logger.Error("drain transaction rollback failed", "sink", s.cfg.Name, "err", err)
	}
}

// closeTx runs after commit or rollback; a failure here cannot change the outcome.
func (s *Sink[T]) closeTx(tx Transaction) {
	defer func() {
		if rec := recover(); rec != nil {
			s.cfg.Logger.Error("drain transaction close panic", "sink", s.cfg.Name, "panic", rec)
		}
	}()

	if err := tx.Close(); err != nil {
		s.cfg.Logger.Warn("drain transaction close failed", "sink", s.cfg.Name, "err", err)
	}
}
