package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/velmie/drain"
)

const placeholderGrowth = 2

// Executor allows putting events within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Channel is a MySQL-backed drain.Channel using polling + SKIP LOCKED.
type Channel struct {
	db      *sql.DB
	cfg     Config
	queries queries
	table   string
}

var _ drain.Channel = (*Channel)(nil)

// NewChannel constructs a MySQL channel with validated configuration.
func NewChannel(db *sql.DB, opts ...Option) (*Channel, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Prefetch < 0 {
		return nil, ErrInvalidPrefetch
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Channel{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewChannel constructs a MySQL channel or panics on error.
func MustNewChannel(db *sql.DB, opts ...Option) *Channel {
	ch, err := NewChannel(db, opts...)
	if err != nil {
		panic(err)
	}

	return ch
}

// Table returns the sanitized table name.
func (c *Channel) Table() string {
	return c.table
}

// Put inserts an event using the provided executor (transaction preferred).
func (c *Channel) Put(ctx context.Context, exec Executor, event drain.Event) (uuid.UUID, error) {
	if exec == nil {
		return uuid.Nil, ErrExecutorRequired
	}
	if c.cfg.ValidateJSON && !json.Valid(event.Body) {
		return uuid.Nil, ErrInvalidBody
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("drain mysql: generate id failed: %w", err)
	}

	headers, err := encodeHeaders(event.Headers)
	if err != nil {
		return uuid.Nil, err
	}
	body := event.Body
	if body == nil {
		body = []byte{}
	}

	if _, err := exec.ExecContext(ctx, c.queries.insert, id[:], headers, body); err != nil {
		return uuid.Nil, fmt.Errorf("drain mysql: insert failed: %w", err)
	}

	return id, nil
}

// Begin opens a READ COMMITTED transaction for one drain cycle.
func (c *Channel) Begin(ctx context.Context) (drain.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("drain mysql: begin tx failed: %w", err)
	}

	return &transaction{tx: tx, channel: c}, nil
}

// PendingCount returns the number of rows not yet drained.
func (c *Channel) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, c.queries.countPending, statusPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("drain mysql: pending count failed: %w", err)
	}

	return count, nil
}

func encodeHeaders(headers map[string]string) (any, error) {
	if len(headers) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("drain mysql: encode headers failed: %w", err)
	}

	return string(raw), nil
}

func decodeHeaders(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var headers map[string]string
	if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, fmt.Errorf("drain mysql: decode headers failed: %w", err)
	}

	return headers, nil
}
