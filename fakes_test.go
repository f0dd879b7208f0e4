package drain

import (
	"context"
	"sync"
	"time"
)

type fakeChannel struct {
	mu       sync.Mutex
	events   []Event
	beginErr error
	nilTx    bool
	txs      []*fakeTx

	takeErr     error
	takePanic   any
	commitErr   error
	rollbackErr error
	closeErr    error
	closePanic  any
}

func (c *fakeChannel) Begin(_ context.Context) (Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.beginErr != nil {
		return nil, c.beginErr
	}
	if c.nilTx {
		return nil, nil
	}
	tx := &fakeTx{channel: c}
	c.txs = append(c.txs, tx)

	return tx, nil
}

func (c *fakeChannel) lastTx() *fakeTx {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.txs) == 0 {
		return nil
	}

	return c.txs[len(c.txs)-1]
}

func (c *fakeChannel) remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.events)
}

type fakeTx struct {
	channel   *fakeChannel
	taken     []Event
	commits   int
	rollbacks int
	closes    int
}

func (t *fakeTx) Take(_ context.Context) (Event, bool, error) {
	c := t.channel
	if c.takePanic != nil {
		panic(c.takePanic)
	}
	if c.takeErr != nil {
		return Event{}, false, c.takeErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return Event{}, false, nil
	}
	event := c.events[0]
	c.events = c.events[1:]
	t.taken = append(t.taken, event)

	return event, true, nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.commits++

	return t.channel.commitErr
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.rollbacks++
	c := t.channel
	c.mu.Lock()
	c.events = append(append([]Event(nil), t.taken...), c.events...)
	t.taken = nil
	c.mu.Unlock()

	return c.rollbackErr
}

func (t *fakeTx) Close() error {
	t.closes++
	if t.channel.closePanic != nil {
		panic(t.channel.closePanic)
	}

	return t.channel.closeErr
}

type fakeStore[T any] struct {
	mu        sync.Mutex
	writes    [][]T
	starts    int
	stops     int
	startErr  error
	stopErr   error
	insertErr error
}

func (s *fakeStore[T]) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.starts++

	return s.startErr
}

func (s *fakeStore[T]) BulkInsert(_ context.Context, records []T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return s.insertErr
	}
	s.writes = append(s.writes, append([]T(nil), records...))

	return nil
}

func (s *fakeStore[T]) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stops++

	return s.stopErr
}

func (s *fakeStore[T]) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, w := range s.writes {
		n += len(w)
	}

	return n
}

type captureLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(string, ...any)  {}
func (l *captureLogger) Warn(string, ...any)  {}

func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.errors = append(l.errors, msg)
}

type captureMetrics struct {
	durations []time.Duration
	sizes     []int
}

func (m *captureMetrics) ObserveBatchDuration(d time.Duration) {
	m.durations = append(m.durations, d)
}

func (m *captureMetrics) ObserveBatchSize(count int) {
	m.sizes = append(m.sizes, count)
}

type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)

	return c.now
}

func bodyParse(event Event) (string, error) {
	return string(event.Body), nil
}

func events(bodies ...string) []Event {
	out := make([]Event, 0, len(bodies))
	for _, body := range bodies {
		out = append(out, Event{Body: []byte(body)})
	}

	return out
}
