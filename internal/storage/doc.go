// Package storage is the durable tier of the shortener, backed by
// PostgreSQL through a pgx connection pool.
//
// Lookups return ErrNotFound for absent rows and inserts return ErrConflict
// on unique violations. Neither is a sign of an unhealthy database, and
// callers guarding the store with a circuit breaker must not count them as
// failures.
package storage
