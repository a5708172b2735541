package healthcheck_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/url-shortener/internal/healthcheck"
)

var _ = Describe("Poll", func() {
	var logger *slog.Logger

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	It("should return true once the probe reports healthy", func() {
		var calls atomic.Int32
		probe := func(ctx context.Context) bool {
			return calls.Add(1) >= 3
		}

		recovered := healthcheck.Poll(context.Background(), "database",
			5*time.Millisecond, time.Second, probe, logger)

		Expect(recovered).To(BeTrue())
		Expect(calls.Load()).To(Equal(int32(3)))
	})

	It("should return false when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan bool)

		go func() {
			done <- healthcheck.Poll(ctx, "cache", 5*time.Millisecond, time.Second,
				func(ctx context.Context) bool { return false }, logger)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		Eventually(done).Should(Receive(BeFalse()))
	})

	It("should bound each probe with the timeout", func() {
		var deadlineSet atomic.Bool
		probe := func(ctx context.Context) bool {
			_, ok := ctx.Deadline()
			deadlineSet.Store(ok)
			<-ctx.Done()
			return true
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		Expect(healthcheck.Poll(ctx, "cache", 5*time.Millisecond, 10*time.Millisecond, probe, logger)).To(BeTrue())
		Expect(deadlineSet.Load()).To(BeTrue())
	})

	It("should not report recovery after cancellation during a probe", func() {
		ctx, cancel := context.WithCancel(context.Background())
		probe := func(probeCtx context.Context) bool {
			cancel()
			return true
		}

		Expect(healthcheck.Poll(ctx, "database", 5*time.Millisecond, time.Second, probe, logger)).To(BeFalse())
	})
})
