package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	_ "github.com/go-sql-driver/mysql"

	"github.com/velmie/drain"
	"github.com/velmie/drain/config"
	"github.com/velmie/drain/kafka"
	"github.com/velmie/drain/memory"
	"github.com/velmie/drain/mysql"
	"github.com/velmie/drain/pebble"
)

// openedChannel is the configured channel plus the resources it owns.
type openedChannel struct {
	drain.Channel
	closers []io.Closer
	// cleanup is set for MySQL channels with a retention.
	cleanup *mysql.CleanupMaintainer
	// putter is set for channels fed by the ingest endpoint.
	putter eventPutter
}

func (c *openedChannel) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func openChannel(ctx context.Context, cfg *config.Config, logger drain.Logger) (*openedChannel, error) {
	switch cfg.Channel.Type {
	case config.ChannelMemory:
		m := cfg.Channel.Memory
		ch := memory.NewChannel(
			memory.WithCapacity(m.Capacity),
			memory.WithTransactionCapacity(m.TransactionCapacity),
		)
		return &openedChannel{Channel: ch, putter: ch}, nil
	case config.ChannelMySQL:
		return openMySQL(ctx, cfg.Channel.MySQL, logger)
	case config.ChannelPebble:
		p := cfg.Channel.Pebble
		ch, err := pebble.Open(p.Dir, pebble.WithCapacity(p.Capacity))
		if err != nil {
			return nil, err
		}
		return &openedChannel{Channel: ch, closers: []io.Closer{ch}, putter: ch}, nil
	case config.ChannelKafka:
		k := cfg.Channel.Kafka
		ch, err := kafka.NewChannel(kafka.Config{
			Brokers:     k.Brokers,
			Topic:       k.Topic,
			GroupID:     k.GroupID,
			PollTimeout: k.PollTimeout,
		}, kafka.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &openedChannel{Channel: ch, closers: []io.Closer{ch}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown channel type %q", drain.ErrConfiguration, cfg.Channel.Type)
	}
}

func openMySQL(ctx context.Context, c config.MySQLConfig, logger drain.Logger) (*openedChannel, error) {
	db, err := openDB(ctx, c.DSN)
	if err != nil {
		return nil, err
	}

	ch, err := mysql.NewChannel(db, mysql.WithTable(c.Table), mysql.WithPrefetch(c.Prefetch))
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	opened := &openedChannel{Channel: ch, closers: []io.Closer{db}}

	if c.CleanupRetention > 0 {
		maintainer, err := mysql.NewCleanupMaintainer(db, mysql.CleanupMaintainerConfig{
			Table:      ch.Table(),
			Retention:  c.CleanupRetention,
			CheckEvery: c.CleanupInterval,
			Logger:     logger,
		})
		if err != nil {
			return nil, errors.Join(err, db.Close())
		}
		opened.cleanup = maintainer
	}

	return opened, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %w", drain.ErrConfiguration, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("%w: ping db: %w", drain.ErrConnection, err), db.Close())
	}

	return db, nil
}
