package drain

import "sync/atomic"

// Counters holds the operational counters of one or more sinks.
// All methods are safe for concurrent use, so a single Counters value may be
// shared by several sinks writing to the same store.
type Counters struct {
	batchEmpty        atomic.Int64
	batchUnderflow    atomic.Int64
	batchComplete     atomic.Int64
	drainAttempt      atomic.Int64
	drainSuccess      atomic.Int64
	connectionCreated atomic.Int64
	connectionFailed  atomic.Int64
	connectionClosed  atomic.Int64
	rollbackFailed    atomic.Int64
}

// CountersSnapshot is a point-in-time copy of Counters.
type CountersSnapshot struct {
	BatchEmpty        int64
	BatchUnderflow    int64
	BatchComplete     int64
	DrainAttempt      int64
	DrainSuccess      int64
	ConnectionCreated int64
	ConnectionFailed  int64
	ConnectionClosed  int64
	RollbackFailed    int64
}

// NewCounters returns zeroed counters.
func NewCounters() *Counters {
	return &Counters{}
}

// BatchEmpty returns the number of cycles that took no events.
func (c *Counters) BatchEmpty() int64 { return c.batchEmpty.Load() }

// BatchUnderflow returns the number of cycles that took fewer events than the batch size.
func (c *Counters) BatchUnderflow() int64 { return c.batchUnderflow.Load() }

// BatchComplete returns the number of cycles that took a full batch.
func (c *Counters) BatchComplete() int64 { return c.batchComplete.Load() }

// DrainAttempt returns the number of events handed to the store.
func (c *Counters) DrainAttempt() int64 { return c.drainAttempt.Load() }

// DrainSuccess returns the number of events written and committed.
func (c *Counters) DrainSuccess() int64 { return c.drainSuccess.Load() }

// ConnectionCreated returns the number of successful store starts.
func (c *Counters) ConnectionCreated() int64 { return c.connectionCreated.Load() }

// ConnectionFailed returns the number of failed store starts.
func (c *Counters) ConnectionFailed() int64 { return c.connectionFailed.Load() }

// ConnectionClosed returns the number of store stops.
func (c *Counters) ConnectionClosed() int64 { return c.connectionClosed.Load() }

// RollbackFailed returns the number of rollbacks that returned an error.
func (c *Counters) RollbackFailed() int64 { return c.rollbackFailed.Load() }

// Snapshot copies all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		BatchEmpty:        c.batchEmpty.Load(),
		BatchUnderflow:    c.batchUnderflow.Load(),
		BatchComplete:     c.batchComplete.Load(),
		DrainAttempt:      c.drainAttempt.Load(),
		DrainSuccess:      c.drainSuccess.Load(),
		ConnectionCreated: c.connectionCreated.Load(),
		ConnectionFailed:  c.connectionFailed.Load(),
		ConnectionClosed:  c.connectionClosed.Load(),
		RollbackFailed:    c.rollbackFailed.Load(),
	}
}
