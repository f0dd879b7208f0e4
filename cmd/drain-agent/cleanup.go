package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/velmie/drain"
	"github.com/velmie/drain/cmd/internal/logutil"
	"github.com/velmie/drain/config"
	"github.com/velmie/drain/mysql"
)

type cleanupFlags struct {
	dsn        string
	table      string
	retention  time.Duration
	checkEvery time.Duration
	limit      int
	lockName   string
	once       bool
}

// newCleanupCommand removes drained rows from the MySQL channel table, for
// deployments where the agent itself should not run DELETE statements.
func newCleanupCommand(flags *globalFlags) *cobra.Command {
	f := &cleanupFlags{}
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete drained rows older than the retention from the MySQL channel table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(flags.configPath, flags.envFiles...)
			if err != nil {
				return err
			}
			f.applyDefaults(cfg.Channel.MySQL)
			if f.dsn == "" {
				return fmt.Errorf("%w: dsn is required", drain.ErrConfiguration)
			}

			base, err := logutil.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runCleanup(ctx, f, logutil.Wrap(base, logrus.Fields{"cmd": "cleanup"}))
		},
	}

	cmd.Flags().StringVar(&f.dsn, "dsn", "", "MySQL DSN (defaults to channel.mysql.dsn)")
	cmd.Flags().StringVar(&f.table, "table", "", "Event table name (defaults to channel.mysql.table)")
	cmd.Flags().DurationVar(&f.retention, "retention", 0, "Delete rows drained longer ago than this (defaults to channel.mysql.cleanup_retention)")
	cmd.Flags().DurationVar(&f.checkEvery, "check-every", time.Hour, "How often to run cleanup")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Max rows deleted per run (0 uses default)")
	cmd.Flags().StringVar(&f.lockName, "lock-name", "", "Advisory lock name (optional)")
	cmd.Flags().BoolVar(&f.once, "once", false, "Run once and exit")

	return cmd
}

func (f *cleanupFlags) applyDefaults(c config.MySQLConfig) {
	if f.dsn == "" {
		f.dsn = c.DSN
	}
	if f.table == "" {
		f.table = c.Table
	}
	if f.retention == 0 {
		f.retention = c.CleanupRetention
	}
}

func runCleanup(ctx context.Context, f *cleanupFlags, logger drain.Logger) error {
	db, err := openDB(ctx, f.dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	maintainer, err := mysql.NewCleanupMaintainer(db, mysql.CleanupMaintainerConfig{
		Table:      f.table,
		Retention:  f.retention,
		CheckEvery: f.checkEvery,
		Limit:      f.limit,
		LockName:   f.lockName,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("%w: init maintainer: %w", drain.ErrConfiguration, err)
	}

	if f.once {
		result, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		logger.Info("drain cleanup done", "drained", result.Drained)

		return nil
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}
