package cache_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/url-shortener/internal/cache"
	"github.com/angeloszaimis/url-shortener/internal/model"
)

var _ = Describe("Keys", func() {
	It("should build keys for every record kind", func() {
		Expect(cache.MappingKey("abc")).To(Equal("url:abc"))
		Expect(cache.FallbackKey("abc")).To(Equal("url:fallback:abc"))
		Expect(cache.CounterKey("abc")).To(Equal("clicks:abc"))
	})

	It("should extract the id from a counter key", func() {
		id, ok := cache.IDFromCounterKey("clicks:abc")
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal("abc"))

		_, ok = cache.IDFromCounterKey("url:abc")
		Expect(ok).To(BeFalse())

		_, ok = cache.IDFromCounterKey("clicks:")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("RedisStore when Redis is unreachable", func() {
	var (
		store *cache.RedisStore
		logs  *bytes.Buffer
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		logs = &bytes.Buffer{}
		logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

		client := redis.NewClient(&redis.Options{
			Addr:        "127.0.0.1:1",
			DialTimeout: 100 * time.Millisecond,
			MaxRetries:  -1,
		})
		store = cache.NewRedisStore(client, cache.WithLogger(logger))
	})

	AfterEach(func() {
		_ = store.Close()
	})

	It("should start out assuming the connection is up", func() {
		Expect(store.Connected()).To(BeTrue())
	})

	It("should return neutral results instead of errors", func() {
		val, ok := store.Get(ctx, "url:abc")
		Expect(ok).To(BeFalse())
		Expect(val).To(BeEmpty())

		Expect(store.Set(ctx, "url:abc", "https://example.com", time.Minute)).To(BeFalse())
		Expect(store.Delete(ctx, "url:abc")).To(BeFalse())
		Expect(store.Exists(ctx, "url:abc")).To(BeFalse())
		Expect(store.Increment(ctx, "clicks:abc", 1)).To(BeZero())
		Expect(store.Expire(ctx, "url:abc", time.Minute)).To(BeFalse())
		Expect(store.HealthCheck(ctx)).To(BeFalse())
	})

	It("should return neutral results from the domain helpers", func() {
		Expect(store.CacheMapping(ctx, "abc", "https://example.com")).To(BeFalse())

		_, ok := store.GetMapping(ctx, "abc")
		Expect(ok).To(BeFalse())
		Expect(store.DeleteMapping(ctx, "abc")).To(BeFalse())

		Expect(store.CacheDegraded(ctx, model.DegradedRecord{
			ShortURL:   model.ShortURL{ShortID: "abc", OriginalURL: "https://example.com"},
			Provenance: model.ProvenanceCacheFallback,
		})).To(BeFalse())
		_, ok = store.GetDegraded(ctx, "abc")
		Expect(ok).To(BeFalse())

		Expect(store.IncrementClicks(ctx, "abc")).To(BeZero())
		Expect(store.PendingClicks(ctx, "abc")).To(BeZero())
		Expect(store.ListPendingCounterKeys(ctx)).To(BeEmpty())
		Expect(store.ReadCounters(ctx, []string{"clicks:abc"})).To(BeEmpty())
		Expect(store.DeleteCounters(ctx, []string{"clicks:abc"})).To(BeZero())
		Expect(store.SettleCounters(ctx, map[string]int64{"clicks:abc": 1})).To(BeZero())
	})

	It("should report the outage once and then log quietly", func() {
		store.Get(ctx, "url:a")
		store.Get(ctx, "url:b")
		store.Get(ctx, "url:c")

		Expect(store.Connected()).To(BeFalse())
		Expect(strings.Count(logs.String(), "Cache unavailable")).To(Equal(1))
		Expect(logs.String()).To(ContainSubstring("Cache still unavailable"))
	})

	It("should not treat caller cancellation as an outage", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, ok := store.Get(cancelled, "url:abc")
		Expect(ok).To(BeFalse())
		Expect(store.Connected()).To(BeTrue())
	})

	It("should skip the round trip for empty key lists", func() {
		Expect(store.ReadCounters(ctx, nil)).To(BeEmpty())
		Expect(store.DeleteCounters(ctx, nil)).To(BeZero())
		Expect(store.SettleCounters(ctx, nil)).To(BeZero())
		Expect(store.Connected()).To(BeTrue())
	})
})
