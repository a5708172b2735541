// Package testutils holds in-memory fakes of the storage and cache tiers
// and helpers that start PostgreSQL and Redis containers for integration
// tests.
package testutils
