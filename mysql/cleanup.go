package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/velmie/drain"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "drain:cleanup:"
)

// CleanupOptions defines which drained rows to delete.
type CleanupOptions struct {
	// Before removes rows drained at or before this timestamp (required).
	Before time.Time
	// Limit caps the number of rows deleted per call (0 uses the default).
	Limit int
}

// CleanupResult reports how many rows were removed.
type CleanupResult struct {
	Drained int64
}

// CleanupMaintainerConfig controls periodic cleanup of drained rows.
type CleanupMaintainerConfig struct {
	// Table is the event table name. Use schema.table for non-default schema.
	Table string
	// Retention removes rows drained before now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// LockName is the advisory lock name. Defaults to drain:cleanup:<table>.
	LockName string
	// Clock overrides time source (useful for tests).
	Clock drain.Clock
	// Logger receives warnings about cleanup failures.
	Logger drain.Logger
}

// CleanupMaintainer periodically deletes drained rows.
type CleanupMaintainer struct {
	channel *Channel
	cfg     CleanupMaintainerConfig
}

// Cleanup removes drained rows older than opts.Before.
func (c *Channel) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}

	// #nosec G201 -- table name is sanitized.
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE status = ? AND drained_at IS NOT NULL AND drained_at <= ? ORDER BY id LIMIT ?",
		c.table,
	)
	res, err := c.db.ExecContext(ctx, query, statusDrained, opts.Before, limit)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("drain mysql: cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return CleanupResult{}, fmt.Errorf("drain mysql: cleanup rows failed: %w", err)
	}

	return CleanupResult{Drained: affected}, nil
}

// NewCleanupMaintainer creates a new cleanup maintainer with defaults applied.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = drain.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = drain.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}

	ch, err := NewChannel(db, WithTable(cfg.Table))
	if err != nil {
		return nil, err
	}
	cfg.Table = ch.table
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + cfg.Table
	}

	return &CleanupMaintainer{channel: ch, cfg: cfg}, nil
}

// Run periodically deletes old drained rows until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	m.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *CleanupMaintainer) runOnce(ctx context.Context) {
	res, err := m.Ensure(ctx)
	if err != nil {
		m.cfg.Logger.Warn("drain cleanup failed", "table", m.cfg.Table, "err", err)

		return
	}
	if res.Drained > 0 {
		m.cfg.Logger.Info("drain cleanup removed rows", "table", m.cfg.Table, "count", res.Drained)
	}
}

// Ensure executes a single cleanup pass under the advisory lock.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	conn, err := m.channel.db.Conn(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("drain mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return CleanupResult{}, err
	}
	if !locked {
		m.cfg.Logger.Debug("drain cleanup lock held by another session", "lock", m.cfg.LockName)

		return CleanupResult{}, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return m.channel.Cleanup(ctx, CleanupOptions{
		Before: before,
		Limit:  m.cfg.Limit,
	})
}

func (m *CleanupMaintainer) tryLock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("drain mysql: acquire cleanup lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		return false, nil
	}

	return true, nil
}

func (m *CleanupMaintainer) releaseLock(ctx context.Context, conn *sql.Conn) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("drain cleanup release lock failed", "lock", m.cfg.LockName, "err", err)
	}
}
