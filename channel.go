package drain

import "context"

// Channel is a transactional source queue.
type Channel interface {
	// Begin opens a transaction scoped to a single drain cycle.
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction is a channel transaction. Exactly one of Commit or Rollback
// must be called, followed by Close.
type Transaction interface {
	// Take returns the next event. ok is false when the channel has no more
	// events available right now.
	Take(ctx context.Context) (event Event, ok bool, err error)
	// Commit removes every taken event from the channel.
	Commit(ctx context.Context) error
	// Rollback returns every taken event to the channel.
	Rollback(ctx context.Context) error
	// Close releases the transaction.
	Close() error
}
