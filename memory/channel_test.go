package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/velmie/drain"
)

func put(t *testing.T, ch *Channel, bodies ...string) {
	t.Helper()
	for _, body := range bodies {
		if err := ch.Put(context.Background(), drain.Event{Body: []byte(body)}); err != nil {
			t.Fatalf("put %s: %v", body, err)
		}
	}
}

func take(t *testing.T, tx drain.Transaction, n int) []string {
	t.Helper()
	var out []string
	for i := 0; i < n; i++ {
		event, ok, err := tx.Take(context.Background())
		if err != nil {
			t.Fatalf("take: %v", err)
		}
		if !ok {
			break
		}
		out = append(out, string(event.Body))
	}
	return out
}

func TestChannelTakeCommit(t *testing.T) {
	ch := NewChannel()
	put(t, ch, "a", "b", "c")

	tx, _ := ch.Begin(context.Background())
	got := take(t, tx, 2)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected events: %v", got)
	}
	if ch.InFlight() != 2 {
		t.Fatalf("expected 2 in flight, got %d", ch.InFlight())
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ch.Len() != 1 || ch.InFlight() != 0 {
		t.Fatalf("unexpected channel state: len=%d inflight=%d", ch.Len(), ch.InFlight())
	}
}

func TestChannelRollbackRestoresOrder(t *testing.T) {
	ch := NewChannel()
	put(t, ch, "a", "b", "c")

	tx, _ := ch.Begin(context.Background())
	take(t, tx, 2)
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	_ = tx.Close()

	tx, _ = ch.Begin(context.Background())
	got := take(t, tx, 5)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestChannelCloseWithoutCommitRollsBack(t *testing.T) {
	ch := NewChannel()
	put(t, ch, "a")

	tx, _ := ch.Begin(context.Background())
	take(t, tx, 1)
	if err := tx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ch.Len() != 1 || ch.InFlight() != 0 {
		t.Fatalf("expected event returned, len=%d inflight=%d", ch.Len(), ch.InFlight())
	}
}

func TestChannelCapacityCountsInFlight(t *testing.T) {
	ch := NewChannel(WithCapacity(2))
	put(t, ch, "a", "b")

	if err := ch.Put(context.Background(), drain.Event{}); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}

	tx, _ := ch.Begin(context.Background())
	take(t, tx, 1)
	if err := ch.Put(context.Background(), drain.Event{}); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull while event in flight, got %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := ch.Put(context.Background(), drain.Event{}); err != nil {
		t.Fatalf("expected space after commit, got %v", err)
	}
}

func TestChannelTransactionCapacity(t *testing.T) {
	ch := NewChannel(WithTransactionCapacity(1))
	put(t, ch, "a", "b")

	tx, _ := ch.Begin(context.Background())
	take(t, tx, 1)
	if _, _, err := tx.Take(context.Background()); !errors.Is(err, ErrTransactionCapacity) || !drain.IsPermanent(err) {
		t.Fatalf("expected permanent ErrTransactionCapacity, got %v", err)
	}
}

func TestSinkBatchAboveTransactionCapacityIsFatal(t *testing.T) {
	ch := NewChannel(WithCapacity(200))
	for i := 0; i < 150; i++ {
		put(t, ch, `{}`)
	}

	store := &sliceStore{}
	sink, err := drain.NewSink[string](ch, store, func(e drain.Event) (string, error) {
		return string(e.Body), nil
	}, drain.WithBatchSize(150))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = sink.DrainOnce(context.Background())
	if !errors.Is(err, ErrTransactionCapacity) || drain.IsRecoverable(err) {
		t.Fatalf("expected fatal transaction capacity error, got %v", err)
	}
	if len(store.records) != 0 || ch.Len() != 150 || ch.InFlight() != 0 {
		t.Fatalf("expected nothing drained, written=%d len=%d inflight=%d", len(store.records), ch.Len(), ch.InFlight())
	}

	runErr := drain.NewRunner(sink).Run(context.Background())
	if !errors.Is(runErr, ErrTransactionCapacity) {
		t.Fatalf("expected runner to stop, got %v", runErr)
	}
}

func TestChannelTakeAfterCommit(t *testing.T) {
	ch := NewChannel()
	tx, _ := ch.Begin(context.Background())
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, _, err := tx.Take(context.Background()); !errors.Is(err, ErrTransactionDone) {
		t.Fatalf("expected ErrTransactionDone, got %v", err)
	}
}

func TestChannelConcurrentTransactions(t *testing.T) {
	ch := NewChannel(WithCapacity(1000))
	for i := 0; i < 500; i++ {
		put(t, ch, "x")
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tx, _ := ch.Begin(context.Background())
				n := 0
				for n < 10 {
					_, ok, err := tx.Take(context.Background())
					if err != nil || !ok {
						break
					}
					n++
				}
				_ = tx.Commit(context.Background())
				_ = tx.Close()
				if n == 0 {
					return
				}
				mu.Lock()
				total += n
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if total != 500 {
		t.Fatalf("expected 500 events taken, got %d", total)
	}
}

func TestSinkDrainsMemoryChannel(t *testing.T) {
	ch := NewChannel()
	put(t, ch, `{"a":1}`, `{"a":2}`)

	store := &sliceStore{}
	sink, err := drain.NewSink[string](ch, store, func(e drain.Event) (string, error) {
		return string(e.Body), nil
	}, drain.WithBatchSize(3))
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	status, err := sink.DrainOnce(context.Background())
	if err != nil || status != drain.Backoff {
		t.Fatalf("unexpected first cycle: %s %v", status, err)
	}
	if len(store.records) != 2 {
		t.Fatalf("expected 2 records written, got %d", len(store.records))
	}

	store.err = errors.New("down")
	put(t, ch, `{"a":3}`)
	if _, err := sink.DrainOnce(context.Background()); err == nil {
		t.Fatalf("expected write failure")
	}
	if ch.Len() != 1 || ch.InFlight() != 0 {
		t.Fatalf("expected event back in channel, len=%d inflight=%d", ch.Len(), ch.InFlight())
	}
}

type sliceStore struct {
	records []string
	err     error
}

func (s *sliceStore) Start(context.Context) error { return nil }
func (s *sliceStore) Stop(context.Context) error  { return nil }

func (s *sliceStore) BulkInsert(_ context.Context, records []string) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, records...)
	return nil
}
