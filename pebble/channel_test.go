package pebble

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/velmie/drain"
)

func openChannel(t *testing.T, dir string, opts ...Option) *Channel {
	t.Helper()
	ch, err := Open(dir, opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return ch
}

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

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOpenRequiresDir(t *testing.T) {
	if _, err := Open(""); !errors.Is(err, ErrDirRequired) {
		t.Fatalf("expected ErrDirRequired, got %v", err)
	}
}

func TestChannelTakeCommit(t *testing.T) {
	ch := openChannel(t, filepath.Join(t.TempDir(), "events"))
	defer ch.Close()
	put(t, ch, "a", "b", "c")

	tx, err := ch.Begin(context.Background())
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if got := take(t, tx, 2); !equal(got, []string{"a", "b"}) {
		t.Fatalf("unexpected events: %v", got)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = tx.Close()

	if ch.Len() != 1 {
		t.Fatalf("expected 1 event left, got %d", ch.Len())
	}
}

func TestChannelRollbackRedelivers(t *testing.T) {
	ch := openChannel(t, filepath.Join(t.TempDir(), "events"))
	defer ch.Close()
	put(t, ch, "a", "b")

	tx, _ := ch.Begin(context.Background())
	take(t, tx, 2)
	if err := tx.Rollback(context.Background()); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	_ = tx.Close()

	tx, _ = ch.Begin(context.Background())
	defer tx.Close()
	if got := take(t, tx, 5); !equal(got, []string{"a", "b"}) {
		t.Fatalf("expected redelivery in order, got %v", got)
	}
}

func TestChannelSkipsEventsHeldByOtherTransaction(t *testing.T) {
	ch := openChannel(t, filepath.Join(t.TempDir(), "events"))
	defer ch.Close()
	put(t, ch, "a", "b", "c")

	tx1, _ := ch.Begin(context.Background())
	tx2, _ := ch.Begin(context.Background())
	defer tx1.Close()
	defer tx2.Close()

	if got := take(t, tx1, 1); !equal(got, []string{"a"}) {
		t.Fatalf("tx1 unexpected events: %v", got)
	}
	if got := take(t, tx2, 5); !equal(got, []string{"b", "c"}) {
		t.Fatalf("tx2 unexpected events: %v", got)
	}
}

func TestChannelSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")
	ch := openChannel(t, dir)
	put(t, ch, "a", "b")

	tx, _ := ch.Begin(context.Background())
	take(t, tx, 1)
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	ch = openChannel(t, dir)
	defer ch.Close()
	if ch.Len() != 1 {
		t.Fatalf("expected 1 event after reopen, got %d", ch.Len())
	}
	put(t, ch, "c")

	tx, _ = ch.Begin(context.Background())
	defer tx.Close()
	if got := take(t, tx, 5); !equal(got, []string{"b", "c"}) {
		t.Fatalf("unexpected events after reopen: %v", got)
	}
}

func TestChannelHeaders(t *testing.T) {
	ch := openChannel(t, filepath.Join(t.TempDir(), "events"))
	defer ch.Close()

	event := drain.Event{Headers: map[string]string{"k": "v"}, Body: []byte{0x00, 0xff}}
	if err := ch.Put(context.Background(), event); err != nil {
		t.Fatalf("put: %v", err)
	}

	tx, _ := ch.Begin(context.Background())
	defer tx.Close()
	got, ok, err := tx.Take(context.Background())
	if err != nil || !ok {
		t.Fatalf("take: ok=%v err=%v", ok, err)
	}
	if got.Header("k") != "v" || len(got.Body) != 2 || got.Body[1] != 0xff {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestChannelCapacity(t *testing.T) {
	ch := openChannel(t, filepath.Join(t.TempDir(), "events"), WithCapacity(1))
	defer ch.Close()
	put(t, ch, "a")

	if err := ch.Put(context.Background(), drain.Event{}); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestChannelClosed(t *testing.T) {
	ch := openChannel(t, filepath.Join(t.TempDir(), "events"))
	if err := ch.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := ch.Begin(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := ch.Put(context.Background(), drain.Event{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestKeyOrdering(t *testing.T) {
	a, b := encodeKey(255), encodeKey(256)
	if string(a) >= string(b) {
		t.Fatalf("expected big-endian keys to sort numerically")
	}
	seq, ok := decodeKey(b)
	if !ok || seq != 256 {
		t.Fatalf("unexpected decode: %d %v", seq, ok)
	}
}
