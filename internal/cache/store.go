package cache

import (
	"context"
	"strings"
	"time"

	"github.com/angeloszaimis/url-shortener/internal/model"
)

const (
	mappingPrefix  = "url:"
	fallbackPrefix = "url:fallback:"
	counterPrefix  = "clicks:"

	DefaultMappingTTL  = time.Hour
	DefaultDegradedTTL = 24 * time.Hour
)

// Mapping is a cached id to URL entry. Degraded is set while a degraded
// record exists for the same id, meaning the mapping was never persisted.
type Mapping struct {
	OriginalURL string
	Degraded    bool
}

// Store is the fail-soft cache contract.
type Store interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	Exists(ctx context.Context, key string) bool
	Increment(ctx context.Context, key string, by int64) int64
	Expire(ctx context.Context, key string, ttl time.Duration) bool
	HealthCheck(ctx context.Context) bool
	Connected() bool

	CacheMapping(ctx context.Context, id, originalURL string) bool
	GetMapping(ctx context.Context, id string) (Mapping, bool)
	DeleteMapping(ctx context.Context, id string) bool
	CacheDegraded(ctx context.Context, rec model.DegradedRecord) bool
	GetDegraded(ctx context.Context, id string) (model.DegradedRecord, bool)

	IncrementClicks(ctx context.Context, id string) int64
	PendingClicks(ctx context.Context, id string) int64
	ListPendingCounterKeys(ctx context.Context) []string
	ReadCounters(ctx context.Context, keys []string) map[string]int64
	DeleteCounters(ctx context.Context, keys []string) int64
	SettleCounters(ctx context.Context, applied map[string]int64) int64

	Close() error
}

func MappingKey(id string) string  { return mappingPrefix + id }
func FallbackKey(id string) string { return fallbackPrefix + id }
func CounterKey(id string) string  { return counterPrefix + id }

// IDFromCounterKey returns the short id encoded in a pending counter key.
func IDFromCounterKey(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, counterPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
