// Package mysql provides a durable MySQL 8.0+ drain channel.
//
// A channel transaction uses:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED, so concurrent sinks never take the same row
//   - ORDER BY id ASC (UUID v7 time ordering)
//
// Commit marks the taken rows as drained inside the same transaction. Rollback
// releases the row locks and the events are taken again by the next transaction.
//
// See Schema (raw bytes) or SchemaJSON (JSON bodies), and CleanupMaintainer for
// periodic removal of drained rows.
package mysql
