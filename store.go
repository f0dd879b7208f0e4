package drain

import "context"

// Store is the downstream bulk-write target of a Sink.
type Store[T any] interface {
	// Start establishes the network resources used by BulkInsert.
	Start(ctx context.Context) error
	// BulkInsert writes all records with a single downstream call, in order.
	BulkInsert(ctx context.Context, records []T) error
	// Stop releases the resources acquired by Start.
	Stop(ctx context.Context) error
}

// ParseFunc translates an event into the record shape expected by a Store.
type ParseFunc[T any] func(event Event) (T, error)
