// Package drain provides a transactional batch-drain sink for event pipelines.
//
// Typical flow:
//  1. Producers put events into a Channel (see the memory, mysql, pebble and kafka packages).
//  2. A Sink begins a channel transaction, takes up to BatchSize events, parses them and
//     writes the whole batch to a Store with one bulk call (see the mongo and hbase packages).
//  3. The transaction commits only when the write succeeds; any failure rolls it back so the
//     events stay in the channel for a later cycle.
//
// A Runner drives DrainOnce repeatedly and backs off while the channel cannot fill a batch.
package drain
