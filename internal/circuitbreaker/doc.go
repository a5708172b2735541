// Package circuitbreaker implements the circuit breaker pattern for the
// storage dependencies of the shortener (the durable store and the cache).
//
// A circuit breaker prevents cascading failures by failing fast while a
// dependency is unhealthy. It has three states:
//
//   - CLOSED: Normal operation, failures are counted in a sliding window
//   - OPEN: Dependency failing, operations are not attempted
//   - HALF_OPEN: Probing, a run of successes closes the circuit again
//
// An OPEN breaker moves to HALF_OPEN either lazily, on the first Execute
// after its timeout elapses, or eagerly when its optional health check
// reports the dependency healthy again.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
//	cb := registry.GetOrCreate("database", nil, pingDatabase)
//	row, err := circuitbreaker.Execute(ctx, cb,
//	    func(ctx context.Context) (*Row, error) {
//	        return db.Find(ctx, id)
//	    },
//	    func(ctx context.Context, err error) (*Row, error) {
//	        return cachedRow(ctx, id)
//	    })
package circuitbreaker
