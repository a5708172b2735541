// Package config loads the service configuration from an optional YAML file
// and environment variables and validates it. It covers the HTTP server,
// logging, the PostgreSQL and Redis connections, cache TTLs, one circuit
// breaker per dependency and the click reconciler.
package config
