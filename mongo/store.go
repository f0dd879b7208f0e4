// Package mongo writes drained events to a MongoDB collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/velmie/drain"
)

// ErrEmptyDocument is returned by ParseDocument for an empty body.
var ErrEmptyDocument = errors.New("drain mongo: event body is empty")

type collection interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
}

type client interface {
	Ping(ctx context.Context, rp *readpref.ReadPref) error
	Disconnect(ctx context.Context) error
	collection(database, name string) collection
}

type connectFunc func(ctx context.Context, opts *options.ClientOptions) (client, error)

type driverClient struct {
	*mongo.Client
}

func (c driverClient) collection(database, name string) collection {
	return c.Database(database).Collection(name)
}

func connectDriver(ctx context.Context, opts *options.ClientOptions) (client, error) {
	cl, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}

	return driverClient{Client: cl}, nil
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger drain.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store is a drain.Store writing BSON documents with one ordered InsertMany per batch.
type Store struct {
	cfg     Config
	seeds   []string
	connect connectFunc
	logger  drain.Logger

	mu     sync.Mutex
	client client
	coll   collection
}

var _ drain.Store[bson.D] = (*Store)(nil)

// NewStore validates cfg and returns a store that connects on Start.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seeds, err := Seeds(cfg.Hosts)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:     cfg.withDefaults(),
		seeds:   seeds,
		connect: connectDriver,
		logger:  drain.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Store) clientOptions() *options.ClientOptions {
	opts := options.Client().
		SetHosts(s.seeds).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetServerSelectionTimeout(s.cfg.ConnectTimeout)
	if s.cfg.AuthEnabled {
		opts.SetAuth(options.Credential{
			Username:   s.cfg.Username,
			Password:   s.cfg.Password,
			AuthSource: s.cfg.AuthSource,
		})
	}

	return opts
}

// Start connects to the seeds and pings the primary.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	cl, err := s.connect(ctx, s.clientOptions())
	if err != nil {
		return fmt.Errorf("drain mongo: connect failed: %w", err)
	}
	if err := cl.Ping(ctx, readpref.Primary()); err != nil {
		return errors.Join(
			fmt.Errorf("drain mongo: ping failed: %w", err),
			cl.Disconnect(context.WithoutCancel(ctx)),
		)
	}

	s.client = cl
	s.coll = cl.collection(s.cfg.Database, s.cfg.Collection)
	s.logger.Info("drain mongo connected", "hosts", s.seeds, "database", s.cfg.Database, "collection", s.cfg.Collection)

	return nil
}

// BulkInsert inserts documents in order. Duplicate key failures are permanent.
func (s *Store) BulkInsert(ctx context.Context, documents []bson.D) error {
	s.mu.Lock()
	coll := s.coll
	s.mu.Unlock()

	if coll == nil {
		return drain.ErrNotRunning
	}
	if len(documents) == 0 {
		return nil
	}

	docs := make([]interface{}, len(documents))
	for i, doc := range documents {
		docs[i] = doc
	}

	if _, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		err = fmt.Errorf("drain mongo: insert many failed: %w", err)
		if mongo.IsDuplicateKeyError(err) {
			return drain.Permanent(err)
		}

		return err
	}

	return nil
}

// Stop disconnects the client.
func (s *Store) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Disconnect(ctx)
	s.client = nil
	s.coll = nil
	if err != nil {
		return fmt.Errorf("drain mongo: disconnect failed: %w", err)
	}

	return nil
}

// ParseDocument parses an event body as relaxed extended JSON.
func ParseDocument(event drain.Event) (bson.D, error) {
	if len(event.Body) == 0 {
		return nil, ErrEmptyDocument
	}

	var doc bson.D
	if err := bson.UnmarshalExtJSON(event.Body, false, &doc); err != nil {
		return nil, fmt.Errorf("drain mongo: parse document failed: %w", err)
	}

	return doc, nil
}
