// Package access routes reads and writes across the durable store and the
// cache, each guarded by its own circuit breaker.
//
// Every successful result carries a provenance naming the tier that
// produced it: database, cache or cache_fallback. A cache_fallback result
// is valid but degraded. It was written or read while the database was
// unavailable and comes with a warning for the caller.
//
// Cache mirroring after a durable write and cache warming after a durable
// read run in detached goroutines. Their outcome never reaches the caller;
// it is only logged and reported to the Recorder. Wait blocks until they
// have finished.
//
// Mappings created while the database is down live only in the cache and
// are never copied into the database once it recovers. Click counters are
// different: they are flushed by the reconciler.
package access
