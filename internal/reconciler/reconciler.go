package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/url-shortener/internal/cache"
	"github.com/angeloszaimis/url-shortener/internal/storage"
)

type Config struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	// Timeout bounds one cycle. The cycle is not cancelled by Stop.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:   30 * time.Second,
		BatchSize:  100,
		MaxRetries: 2,
		Timeout:    time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Report summarises one cycle. Keys counts pending counters found, Flushed
// the keys applied to the database, Failed the keys of batches that gave
// up and Skipped the keys with nothing to flush or no durable record.
type Report struct {
	CycleID  string
	Keys     int
	Batches  int
	Flushed  int
	Failed   int
	Skipped  int
	Duration time.Duration
}

type Recorder interface {
	RecordReconcileBatch(keys int, duration time.Duration, err error)
	RecordReconcileCycle(keys int, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordReconcileBatch(int, time.Duration, error) {}
func (noopRecorder) RecordReconcileCycle(int, time.Duration)        {}

type Option func(*Reconciler)

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Reconciler) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithRetryDelay sets the pause between attempts of a failing batch.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Reconciler) {
		if d >= 0 {
			r.retryDelay = d
		}
	}
}

type Reconciler struct {
	cache      cache.Store
	store      storage.Store
	cfg        Config
	logger     *slog.Logger
	recorder   Recorder
	retryDelay time.Duration

	// cycle serialises RunOnce so a manual run never overlaps a tick.
	cycle sync.Mutex

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cacheStore cache.Store, store storage.Store, cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		cache:      cacheStore,
		store:      store,
		cfg:        cfg.withDefaults(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder:   noopRecorder{},
		retryDelay: 100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start runs one cycle immediately and then one per interval until Stop is
// called or ctx is cancelled. Calling Start twice is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, r.done)
}

// Stop stops the loop and waits for the in-flight cycle to finish.
func (r *Reconciler) Stop() {
	r.mutex.Lock()
	cancel, done := r.cancel, r.done
	r.mutex.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (r *Reconciler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	r.logger.Info("Reconciler started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Int("batch_size", r.cfg.BatchSize))
	defer r.logger.Info("Reconciler stopped")

	r.runCycle(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle detaches the cycle from ctx so shutdown never aborts a
// transaction half way.
func (r *Reconciler) runCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.Timeout)
	defer cancel()

	if _, err := r.RunOnce(cycleCtx); err != nil {
		r.logger.Warn("Reconcile cycle incomplete", slog.Any("error", err))
	}
}

// RunOnce performs a single flush cycle. The returned error joins the
// errors of every batch that gave up; the other batches were still
// applied.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	r.cycle.Lock()
	defer r.cycle.Unlock()

	start := time.Now()
	report := Report{CycleID: uuid.NewString()}
	logger := r.logger.With(slog.String("cycle_id", report.CycleID))

	keys := uniqueKeys(r.cache.ListPendingCounterKeys(ctx))
	report.Keys = len(keys)

	if len(keys) == 0 {
		logger.Debug("No pending counters")
		report.Duration = time.Since(start)
		return report, nil
	}

	var errs []error
	for i := 0; i < len(keys); i += r.cfg.BatchSize {
		batch := keys[i:min(i+r.cfg.BatchSize, len(keys))]
		report.Batches++

		flushed, skipped, err := r.flushWithRetry(ctx, logger, report.Batches, batch)
		report.Skipped += skipped
		if err != nil {
			report.Failed += len(batch) - skipped
			errs = append(errs, fmt.Errorf("batch %d: %w", report.Batches, err))
			continue
		}
		report.Flushed += flushed
	}

	report.Duration = time.Since(start)
	r.recorder.RecordReconcileCycle(report.Flushed, report.Duration)

	logger.Info("Reconcile cycle finished",
		slog.Int("keys", report.Keys),
		slog.Int("batches", report.Batches),
		slog.Int("flushed", report.Flushed),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.Duration))

	return report, errors.Join(errs...)
}

func (r *Reconciler) flushWithRetry(ctx context.Context, logger *slog.Logger, n int, keys []string) (int, int, error) {
	var (
		flushed, skipped int
		err              error
	)

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, skipped, errors.Join(err, ctx.Err())
			case <-time.After(r.retryDelay):
			}
		}

		start := time.Now()
		flushed, skipped, err = r.flushBatch(ctx, keys)
		r.recorder.RecordReconcileBatch(len(keys), time.Since(start), err)

		if err == nil {
			return flushed, skipped, nil
		}

		logger.Warn("Reconcile batch failed",
			slog.Int("batch", n),
			slog.Int("attempt", attempt+1),
			slog.Int("keys", len(keys)),
			slog.Any("error", err))
	}

	return 0, skipped, err
}

// flushBatch applies one batch in a single transaction and settles the
// flushed counters after the commit.
func (r *Reconciler) flushBatch(ctx context.Context, keys []string) (flushed, skipped int, err error) {
	counters := r.cache.ReadCounters(ctx, keys)

	deltas := make([]storage.ClickDelta, 0, len(keys))
	applied := make(map[string]int64, len(keys))

	for _, key := range keys {
		n, ok := counters[key]
		if !ok || n <= 0 {
			skipped++
			continue
		}

		id, ok := cache.IDFromCounterKey(key)
		if !ok {
			skipped++
			continue
		}

		deltas = append(deltas, storage.ClickDelta{ShortID: id, Delta: n})
		applied[key] = n
	}

	if len(deltas) == 0 {
		return 0, skipped, nil
	}

	updated, err := r.store.ApplyClickDeltas(ctx, deltas)
	if err != nil {
		return 0, skipped, err
	}

	// Counters of ids without a durable record stay pending.
	settle := make(map[string]int64, len(updated))
	for _, id := range updated {
		key := cache.CounterKey(id)
		if n, ok := applied[key]; ok {
			settle[key] = n
		}
	}
	skipped += len(applied) - len(settle)

	if len(settle) > 0 {
		r.cache.SettleCounters(ctx, settle)
	}
	return len(settle), skipped, nil
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
