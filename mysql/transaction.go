package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/velmie/drain"
)

const drainFixedArgs = 2

type row struct {
	id    uuid.UUID
	event drain.Event
}

type transaction struct {
	tx      *sql.Tx
	channel *Channel

	buffered []row
	cursor   uuid.UUID
	taken    []uuid.UUID
	// exhausted is set once a query returns fewer rows than requested.
	exhausted bool
	done      bool
}

// Take returns the next pending event, locking its row until the transaction ends.
func (t *transaction) Take(ctx context.Context) (drain.Event, bool, error) {
	if t.done {
		return drain.Event{}, false, ErrTransactionDone
	}
	if len(t.buffered) == 0 {
		if t.exhausted {
			return drain.Event{}, false, nil
		}
		if err := t.fill(ctx); err != nil {
			return drain.Event{}, false, err
		}
		if len(t.buffered) == 0 {
			return drain.Event{}, false, nil
		}
	}

	next := t.buffered[0]
	t.buffered = t.buffered[1:]
	t.taken = append(t.taken, next.id)

	return next.event, true, nil
}

func (t *transaction) fill(ctx context.Context) error {
	limit := t.channel.cfg.Prefetch
	rows, err := t.tx.QueryContext(ctx, t.channel.queries.selectNext, statusPending, t.cursor[:], limit)
	if err != nil {
		return fmt.Errorf("drain mysql: select failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rawID   []byte
			headers []byte
			body    []byte
		)
		if err := rows.Scan(&rawID, &headers, &body); err != nil {
			return fmt.Errorf("drain mysql: scan failed: %w", err)
		}

		id, err := uuid.FromBytes(rawID)
		if err != nil {
			return drain.Permanent(fmt.Errorf("drain mysql: invalid row id: %w", err))
		}
		decoded, err := decodeHeaders(headers)
		if err != nil {
			return drain.Permanent(err)
		}

		t.buffered = append(t.buffered, row{id: id, event: drain.Event{Headers: decoded, Body: body}})
		t.cursor = id
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("drain mysql: rows failed: %w", err)
	}
	if len(t.buffered) < limit {
		t.exhausted = true
	}

	return nil
}

// Commit marks every taken row as drained and commits. Rows that were
// prefetched but not taken stay pending.
func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return ErrTransactionDone
	}
	t.done = true

	if len(t.taken) > 0 {
		query := buildDrainQuery(t.channel.table, len(t.taken))
		args := make([]any, 0, len(t.taken)+drainFixedArgs)
		args = append(args, statusDrained, t.channel.cfg.Clock.Now())
		for _, id := range t.taken {
			args = append(args, id[:])
		}

		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Join(
				fmt.Errorf("drain mysql: drained update failed: %w", err),
				ignoreTxDone(t.tx.Rollback()),
			)
		}
	}

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("drain mysql: commit failed: %w", err)
	}

	return nil
}

// Rollback releases locks without applying any changes.
func (t *transaction) Rollback(_ context.Context) error {
	t.done = true
	t.buffered = nil
	t.taken = nil

	return ignoreTxDone(t.tx.Rollback())
}

// Close rolls back a transaction that was neither committed nor rolled back.
func (t *transaction) Close() error {
	if t.done {
		return nil
	}
	t.done = true

	return ignoreTxDone(t.tx.Rollback())
}

func ignoreTxDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}
