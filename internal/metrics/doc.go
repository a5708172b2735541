// Package metrics collects operational counters for the shortener.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Request counts and response time percentiles per route
//   - Circuit breaker transitions, failures and successes
//   - Outcomes of background cache mirroring
//   - Which tier (database, cache, cache_fallback) served each operation
//   - Reconciler cycles and batch results
//
// The collector runs in a dedicated goroutine. Emit never blocks; when the
// buffer is full the event is dropped and counted so the request path is
// never slowed down by observability.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	registry := circuitbreaker.NewRegistry(cfg, circuitbreaker.WithSink(collector))
//	collector.RecordResponse("GET /{id}", 3*time.Millisecond, 302)
//
//	snapshot := collector.Snapshot("url-shortener")
//
// Collector satisfies circuitbreaker.Sink. On shutdown the buffer is drained
// before Done is closed.
package metrics
