// Package reconciler flushes pending click counters from the cache into
// the database.
//
// A cycle lists every pending counter, splits the keys into fixed-size
// batches and processes them one after another. Each batch is applied in a
// single database transaction. Only after the commit are the flushed
// amounts settled in the cache, so a crash between the two steps applies
// the same clicks again on the next cycle. Clicks can be over-counted that
// way but never lost.
//
// A failing batch is retried within the cycle and then left in the cache
// for the next one. It does not stop the other batches.
//
// Exactly one process should run the reconciler. Which one is decided by
// configuration; there is no leader election.
package reconciler
