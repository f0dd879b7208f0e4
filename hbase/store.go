package hbase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tsuna/gohbase"
	"github.com/tsuna/gohbase/hrpc"

	"github.com/velmie/drain"
)

const (
	defaultStartTimeout = 10 * time.Second
	// startCheckRow is read from the table at start; it need not exist.
	startCheckRow = "drain-start-check"
)

type client interface {
	Get(g *hrpc.Get) (*hrpc.Result, error)
	Put(p *hrpc.Mutate) (*hrpc.Result, error)
	Close()
}

type clientFactory func(quorum string) client

func newGohbaseClient(quorum string) client {
	return gohbase.NewClient(quorum)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger drain.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStartTimeout bounds the table check made by Start.
func WithStartTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.startTimeout = d
	}
}

// Store is a drain.Store putting each mutation of a batch in order.
type Store struct {
	quorum    string
	table     string
	newClient clientFactory
	logger    drain.Logger

	startTimeout time.Duration

	mu     sync.Mutex
	client client
}

var _ drain.Store[Mutation] = (*Store)(nil)

// NewStore returns a store for table reachable through the ZooKeeper quorum.
func NewStore(quorum, table string, opts ...StoreOption) (*Store, error) {
	if strings.TrimSpace(quorum) == "" {
		return nil, fmt.Errorf("%w: hbase zookeeper quorum is required", drain.ErrConfiguration)
	}
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("%w: hbase table is required", drain.ErrConfiguration)
	}

	s := &Store{
		quorum:    quorum,
		table:     table,
		newClient: newGohbaseClient,
		logger:    drain.NopLogger{},

		startTimeout: defaultStartTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.startTimeout <= 0 {
		s.startTimeout = defaultStartTimeout
	}

	return s, nil
}

// Start creates the client and reads one row of the table, so an unreachable
// quorum or a missing table fails here instead of on the first batch.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.startTimeout)
	defer cancel()

	cl := s.newClient(s.quorum)
	get, err := hrpc.NewGetStr(ctx, s.table, startCheckRow)
	if err != nil {
		cl.Close()
		return fmt.Errorf("drain hbase: build start check: %w", err)
	}
	if _, err := cl.Get(get); err != nil {
		cl.Close()
		return fmt.Errorf("drain hbase: table %s unreachable through %s: %w", s.table, s.quorum, err)
	}
	s.client = cl
	s.logger.Info("drain hbase client connected", "quorum", s.quorum, "table", s.table)

	return nil
}

// BulkInsert puts mutations one by one and stops at the first failure.
func (s *Store) BulkInsert(ctx context.Context, mutations []Mutation) error {
	s.mu.Lock()
	cl := s.client
	s.mu.Unlock()

	if cl == nil {
		return drain.ErrNotRunning
	}

	for i, m := range mutations {
		if len(m.RowKey) == 0 {
			return drain.Permanent(fmt.Errorf("mutation %d: %w", i, ErrEmptyRowKey))
		}
		put, err := hrpc.NewPutStr(ctx, s.table, string(m.RowKey), m.Values())
		if err != nil {
			return drain.Permanent(fmt.Errorf("drain hbase: build put %d: %w", i, err))
		}
		if _, err := cl.Put(put); err != nil {
			return fmt.Errorf("drain hbase: put %d failed: %w", i, err)
		}
	}

	return nil
}

// Stop closes the client.
func (s *Store) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	s.client.Close()
	s.client = nil

	return nil
}
