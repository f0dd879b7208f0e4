package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/drain"
	"github.com/velmie/drain/cmd/internal/logutil"
	"github.com/velmie/drain/config"
	"github.com/velmie/drain/hbase"
	"github.com/velmie/drain/metrics"
	"github.com/velmie/drain/mongo"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the drain loop until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath, flags.envFiles...)
			if err != nil {
				return err
			}
			base, err := logutil.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, base, prometheus.NewRegistry())
		},
	}
}

// agent holds everything one run needs besides the store-specific sink.
type agent struct {
	cfg      *config.Config
	logger   drain.Logger
	registry *prometheus.Registry
	channel  *openedChannel
}

func run(ctx context.Context, cfg *config.Config, base *logrus.Logger, reg *prometheus.Registry) error {
	logger := logutil.Wrap(base, logrus.Fields{"sink": cfg.Name})
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ch, err := openChannel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := ch.Close(); err != nil {
			logger.Warn("drain channel close failed", "err", err)
		}
	}()

	a := &agent{cfg: cfg, logger: logger, registry: reg, channel: ch}

	switch cfg.Store.Type {
	case config.StoreMongo:
		store, err := newMongoStore(cfg.Store.Mongo, logger)
		if err != nil {
			return err
		}
		return serve[bson.D](ctx, a, store, mongo.ParseDocument)
	case config.StoreHBase:
		h := cfg.Store.HBase
		serializer, err := newSerializer(h)
		if err != nil {
			return err
		}
		store, err := hbase.NewStore(h.Quorum, h.Table,
			hbase.WithLogger(logger),
			hbase.WithStartTimeout(h.StartTimeout),
		)
		if err != nil {
			return err
		}
		return serve[hbase.Mutation](ctx, a, store, serializer.Serialize)
	default:
		return fmt.Errorf("%w: unknown store type %q", drain.ErrConfiguration, cfg.Store.Type)
	}
}

func newMongoStore(c config.MongoConfig, logger drain.Logger) (*mongo.Store, error) {
	return mongo.NewStore(mongo.Config{
		Hosts:          c.Hosts,
		Database:       c.Database,
		Collection:     c.Collection,
		AuthEnabled:    c.AuthEnabled,
		Username:       c.Username,
		Password:       c.Password,
		AuthSource:     c.AuthSource,
		ConnectTimeout: c.ConnectTimeout,
	}, mongo.WithLogger(logger))
}

func newSerializer(c config.HBaseConfig) (*hbase.Serializer, error) {
	opts := []hbase.SerializerOption{
		hbase.WithRowKeyIndex(c.RowKey()),
		hbase.WithDepositHeaders(c.DepositHeaders),
	}
	if len(c.Columns) > 0 {
		opts = append(opts, hbase.WithColumns(c.Columns...))
	}

	return hbase.NewSerializer(c.Family, opts...)
}

// serve starts the sink and runs it alongside the metrics and ingest
// endpoints and the optional MySQL cleanup until ctx is done or the runner stops.
func serve[T any](ctx context.Context, a *agent, store drain.Store[T], parse drain.ParseFunc[T]) error {
	counters := drain.NewCounters()
	histograms := metrics.NewHistograms(a.registry)
	a.registry.MustRegister(metrics.NewCollector(a.cfg.Name, counters))

	sink, err := drain.NewSink[T](a.channel, store, parse,
		drain.WithName(a.cfg.Name),
		drain.WithBatchSize(a.cfg.BatchSize),
		drain.WithLogger(a.logger),
		drain.WithMetrics(histograms.Recorder(a.cfg.Name)),
		drain.WithCounters(counters),
	)
	if err != nil {
		return err
	}
	if err := sink.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := sink.Stop(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("drain sink stop failed", "err", err)
		}
	}()

	runner := drain.NewRunner(sink,
		drain.WithBackoffIncrement(a.cfg.Runner.BackoffIncrement),
		drain.WithMaxBackoff(a.cfg.Runner.MaxBackoff),
		drain.WithRunnerLogger(a.logger),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return runner.Run(gctx)
	})
	if a.cfg.Metrics.Address != "" {
		listen(gctx, g, a.logger, "metrics", &http.Server{
			Addr:              a.cfg.Metrics.Address,
			Handler:           metricsHandler(a.registry),
			ReadHeaderTimeout: readHeaderTimeout,
		})
	}
	if a.cfg.Ingest.Address != "" && a.channel.putter != nil {
		listen(gctx, g, a.logger, "ingest", &http.Server{
			Addr:              a.cfg.Ingest.Address,
			Handler:           ingestHandler(a.cfg.Ingest.Path, a.channel.putter, a.logger),
			ReadHeaderTimeout: readHeaderTimeout,
		})
	}
	if cleanup := a.channel.cleanup; cleanup != nil {
		g.Go(func() error {
			if err := cleanup.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	a.logger.Info("drain agent started",
		"channel", a.cfg.Channel.Type,
		"store", a.cfg.Store.Type,
		"batch_size", sink.BatchSize(),
	)
	err = g.Wait()
	a.logger.Info("drain agent stopped", "counters", fmt.Sprintf("%+v", counters.Snapshot()))

	return err
}

// listen serves srv in g and shuts it down once ctx is done.
func listen(ctx context.Context, g *errgroup.Group, logger drain.Logger, name string, srv *http.Server) {
	g.Go(func() error {
		logger.Info("drain "+name+" listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: %w", name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
