package circuitbreaker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/url-shortener/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var (
		registry *circuitbreaker.Registry
		ctx      context.Context
	)

	fail := func(ctx context.Context) (struct{}, error) {
		return struct{}{}, errBoom
	}

	BeforeEach(func() {
		ctx = context.Background()
		registry = circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		})
	})

	AfterEach(func() {
		registry.Close()
	})

	Describe("GetOrCreate", func() {
		It("should create a new breaker for an unknown name", func() {
			cb := registry.GetOrCreate("database", nil, nil)
			Expect(cb).NotTo(BeNil())
			Expect(cb.Name()).To(Equal("database"))
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should return the same breaker for the same name", func() {
			cb1 := registry.GetOrCreate("database", nil, nil)
			cb2 := registry.GetOrCreate("database", nil, nil)
			Expect(cb1).To(BeIdenticalTo(cb2))
		})

		It("should return different breakers for different names", func() {
			cb1 := registry.GetOrCreate("database", nil, nil)
			cb2 := registry.GetOrCreate("cache", nil, nil)
			Expect(cb1).NotTo(BeIdenticalTo(cb2))
		})

		It("should use registry defaults when no config is given", func() {
			cb := registry.GetOrCreate("database", nil, nil)
			for i := 0; i < 4; i++ {
				_, _ = circuitbreaker.Execute(ctx, cb, fail, nil)
			}
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))

			_, _ = circuitbreaker.Execute(ctx, cb, fail, nil)
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should keep the first configuration", func() {
			first := circuitbreaker.Config{FailureThreshold: 2}
			second := circuitbreaker.Config{FailureThreshold: 10}

			cb := registry.GetOrCreate("cache", &first, nil)
			Expect(registry.GetOrCreate("cache", &second, nil)).To(BeIdenticalTo(cb))

			_, _ = circuitbreaker.Execute(ctx, cb, fail, nil)
			_, _ = circuitbreaker.Execute(ctx, cb, fail, nil)
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should apply registry options to every breaker", func() {
			sink := &recordingSink{}
			registry = circuitbreaker.NewRegistry(circuitbreaker.Config{FailureThreshold: 1},
				circuitbreaker.WithSink(sink))

			_, _ = circuitbreaker.Execute(ctx, registry.GetOrCreate("database", nil, nil), fail, nil)
			_, _ = circuitbreaker.Execute(ctx, registry.GetOrCreate("cache", nil, nil), fail, nil)

			Expect(sink.Transitions()).To(ConsistOf("database:OPEN", "cache:OPEN"))
		})
	})

	Describe("Concurrent access", func() {
		It("should create exactly one breaker under concurrent GetOrCreate calls", func() {
			const goroutines = 100

			var wg sync.WaitGroup
			wg.Add(goroutines)

			seen := make([]*circuitbreaker.CircuitBreaker, goroutines)
			for i := 0; i < goroutines; i++ {
				go func(id int) {
					defer wg.Done()
					seen[id] = registry.GetOrCreate("database", nil, nil)
				}(i)
			}

			wg.Wait()

			for _, cb := range seen {
				Expect(cb).To(BeIdenticalTo(seen[0]))
			}
			Expect(registry.ListAll()).To(HaveLen(1))
		})
	})

	Describe("ListAll", func() {
		It("should return the state of all breakers ordered by name", func() {
			registry.GetOrCreate("database", nil, nil)
			cache := registry.GetOrCreate("cache", nil, nil)

			for i := 0; i < 5; i++ {
				_, _ = circuitbreaker.Execute(ctx, cache, fail, nil)
			}

			stats := registry.ListAll()
			Expect(stats).To(HaveLen(2))
			Expect(stats[0].Name).To(Equal("cache"))
			Expect(stats[0].State).To(Equal("OPEN"))
			Expect(stats[0].NextAttemptAt.IsZero()).To(BeFalse())
			Expect(stats[1].Name).To(Equal("database"))
			Expect(stats[1].State).To(Equal("CLOSED"))
		})

		It("should return an empty list for an empty registry", func() {
			Expect(registry.ListAll()).To(BeEmpty())
		})
	})

	Describe("Close", func() {
		It("should stop health polling of every breaker", func() {
			var probes atomic.Int32
			cfg := circuitbreaker.Config{
				FailureThreshold:    1,
				Timeout:             time.Hour,
				HealthCheckInterval: 10 * time.Millisecond,
			}
			cb := registry.GetOrCreate("database", &cfg, func(ctx context.Context) bool {
				probes.Add(1)
				return false
			})

			_, _ = circuitbreaker.Execute(ctx, cb, fail, nil)
			Eventually(probes.Load).Should(BeNumerically(">=", 1))

			registry.Close()
			seen := probes.Load()
			Consistently(probes.Load, 50*time.Millisecond).Should(Equal(seen))
		})
	})
})
