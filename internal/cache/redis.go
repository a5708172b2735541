package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/url-shortener/internal/model"
)

const defaultScanCount = 100

// settleScript subtracts the flushed amount from each counter and removes
// the counters that reach zero, all in one atomic step.
var settleScript = redis.NewScript(`
local removed = 0
for i, key in ipairs(KEYS) do
  local left = redis.call('DECRBY', key, ARGV[i])
  if left <= 0 then
    redis.call('DEL', key)
    removed = removed + 1
  end
end
return removed
`)

type Option func(*RedisStore)

func WithMappingTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.mappingTTL = ttl
		}
	}
}

// WithDegradedTTL sets how long degraded records survive. It should be
// longer than the mapping TTL so the record outlives the outage.
func WithDegradedTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.degradedTTL = ttl
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *RedisStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithScanCount sets the COUNT hint used while listing pending counters.
func WithScanCount(n int64) Option {
	return func(s *RedisStore) {
		if n > 0 {
			s.scanCount = n
		}
	}
}

// RedisStore implements Store on top of go-redis.
type RedisStore struct {
	client      *redis.Client
	logger      *slog.Logger
	mappingTTL  time.Duration
	degradedTTL time.Duration
	scanCount   int64
	connected   atomic.Bool
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, opts ...Option) *RedisStore {
	s := &RedisStore{
		client:      client,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		mappingTTL:  DefaultMappingTTL,
		degradedTTL: DefaultDegradedTTL,
		scanCount:   defaultScanCount,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.connected.Store(true)
	return s
}

func (s *RedisStore) Connected() bool {
	return s.connected.Load()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.markUp()
			return "", false
		}
		s.markDown("get", key, err)
		return "", false
	}

	s.markUp()
	return val, true
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.markDown("set", key, err)
		return false
	}

	s.markUp()
	return true
}

func (s *RedisStore) Delete(ctx context.Context, key string) bool {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		s.markDown("delete", key, err)
		return false
	}

	s.markUp()
	return n > 0
}

func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.markDown("exists", key, err)
		return false
	}

	s.markUp()
	return n > 0
}

func (s *RedisStore) Increment(ctx context.Context, key string, by int64) int64 {
	n, err := s.client.IncrBy(ctx, key, by).Result()
	if err != nil {
		s.markDown("increment", key, err)
		return 0
	}

	s.markUp()
	return n
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		s.markDown("expire", key, err)
		return false
	}

	s.markUp()
	return ok
}

// HealthCheck round-trips a PING.
func (s *RedisStore) HealthCheck(ctx context.Context) bool {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.markDown("ping", "", err)
		return false
	}

	s.markUp()
	return true
}

func (s *RedisStore) CacheMapping(ctx context.Context, id, originalURL string) bool {
	return s.Set(ctx, MappingKey(id), originalURL, s.mappingTTL)
}

// GetMapping reads the mapping and the degraded marker in one MGET.
func (s *RedisStore) GetMapping(ctx context.Context, id string) (Mapping, bool) {
	vals, err := s.client.MGet(ctx, MappingKey(id), FallbackKey(id)).Result()
	if err != nil {
		s.markDown("get_mapping", MappingKey(id), err)
		return Mapping{}, false
	}
	s.markUp()

	url, ok := vals[0].(string)
	if !ok {
		return Mapping{}, false
	}

	return Mapping{OriginalURL: url, Degraded: vals[1] != nil}, true
}

func (s *RedisStore) DeleteMapping(ctx context.Context, id string) bool {
	return s.Delete(ctx, MappingKey(id))
}

func (s *RedisStore) CacheDegraded(ctx context.Context, rec model.DegradedRecord) bool {
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("Failed to encode degraded record",
			slog.String("short_id", rec.ShortID),
			slog.Any("error", err))
		return false
	}

	return s.Set(ctx, FallbackKey(rec.ShortID), string(data), s.degradedTTL)
}

func (s *RedisStore) GetDegraded(ctx context.Context, id string) (model.DegradedRecord, bool) {
	var rec model.DegradedRecord

	data, ok := s.Get(ctx, FallbackKey(id))
	if !ok {
		return rec, false
	}

	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		s.logger.Warn("Discarding unreadable degraded record",
			slog.String("short_id", id),
			slog.Any("error", err))
		return model.DegradedRecord{}, false
	}

	return rec, true
}

func (s *RedisStore) IncrementClicks(ctx context.Context, id string) int64 {
	return s.Increment(ctx, CounterKey(id), 1)
}

func (s *RedisStore) PendingClicks(ctx context.Context, id string) int64 {
	val, ok := s.Get(ctx, CounterKey(id))
	if !ok {
		return 0
	}

	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ListPendingCounterKeys walks the keyspace with SCAN so a large number of
// counters never blocks the server the way KEYS would. SCAN may return a
// key more than once; each key is listed once.
func (s *RedisStore) ListPendingCounterKeys(ctx context.Context) []string {
	var keys []string
	seen := make(map[string]struct{})

	iter := s.client.Scan(ctx, 0, counterPrefix+"*", s.scanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}

	if err := iter.Err(); err != nil {
		s.markDown("scan", counterPrefix+"*", err)
		return nil
	}

	s.markUp()
	return keys
}

// ReadCounters fetches all keys with one MGET. Missing or non-numeric
// values are left out of the result.
func (s *RedisStore) ReadCounters(ctx context.Context, keys []string) map[string]int64 {
	if len(keys) == 0 {
		return map[string]int64{}
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.markDown("mget", "", err)
		return nil
	}
	s.markUp()

	counters := make(map[string]int64, len(keys))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}

		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			s.logger.Warn("Ignoring non-numeric counter",
				slog.String("key", keys[i]),
				slog.String("value", str))
			continue
		}
		counters[keys[i]] = n
	}

	return counters
}

// DeleteCounters removes keys in a single pipeline round trip and returns
// how many existed.
func (s *RedisStore) DeleteCounters(ctx context.Context, keys []string) int64 {
	if len(keys) == 0 {
		return 0
	}

	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		s.markDown("delete_counters", "", err)
		return 0
	}
	s.markUp()

	var deleted int64
	for _, cmd := range cmds {
		if del, ok := cmd.(*redis.IntCmd); ok {
			deleted += del.Val()
		}
	}
	return deleted
}

// SettleCounters removes flushed clicks from their counters. Clicks counted
// after the values in applied were read stay pending, so unlike
// DeleteCounters it never drops a concurrent increment.
func (s *RedisStore) SettleCounters(ctx context.Context, applied map[string]int64) int64 {
	if len(applied) == 0 {
		return 0
	}

	keys := make([]string, 0, len(applied))
	args := make([]any, 0, len(applied))
	for key, n := range applied {
		keys = append(keys, key)
		args = append(args, n)
	}

	removed, err := settleScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		s.markDown("settle_counters", "", err)
		return 0
	}

	s.markUp()
	return removed
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) markUp() {
	if !s.connected.Swap(true) {
		s.logger.Info("Cache connection restored")
	}
}

func (s *RedisStore) markDown(op, key string, err error) {
	// A caller giving up is not an outage.
	if errors.Is(err, context.Canceled) {
		return
	}

	attrs := []any{
		slog.String("op", op),
		slog.Any("error", err),
	}
	if key != "" {
		attrs = append(attrs, slog.String("key", key))
	}

	if s.connected.Swap(false) {
		s.logger.Warn("Cache unavailable, degrading to neutral results", attrs...)
		return
	}
	s.logger.Debug("Cache still unavailable", attrs...)
}
