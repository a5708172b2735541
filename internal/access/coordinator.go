package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/url-shortener/internal/cache"
	"github.com/angeloszaimis/url-shortener/internal/circuitbreaker"
	"github.com/angeloszaimis/url-shortener/internal/model"
	"github.com/angeloszaimis/url-shortener/internal/storage"
)

const (
	DatabaseBreaker = "database"
	CacheBreaker    = "cache"

	WarningNotPersisted = "database unavailable: link is stored in the cache only and expires with it"
	WarningStale        = "database unavailable: served from the cache fallback record"

	defaultMirrorTimeout = 2 * time.Second
	defaultPingTimeout   = time.Second
)

// Result is a record together with the tier that produced it.
type Result struct {
	ShortURL   model.ShortURL
	Provenance model.Provenance
	Warning    string
}

// Recorder receives outcomes that never reach the caller.
type Recorder interface {
	RecordMirror(operation string, err error)
	RecordProvenance(operation, provenance string)
}

type noopRecorder struct{}

func (noopRecorder) RecordMirror(string, error)      {}
func (noopRecorder) RecordProvenance(string, string) {}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithBreakerConfigs overrides the registry defaults for the database and
// cache breakers. A nil config keeps the default.
func WithBreakerConfigs(database, cache *circuitbreaker.Config) Option {
	return func(c *Coordinator) {
		c.dbConfig = database
		c.cacheConfig = cache
	}
}

// WithMirrorTimeout bounds each background cache write.
func WithMirrorTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.mirrorTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator is the tiered access layer in front of the durable store and
// the cache.
type Coordinator struct {
	store    storage.Store
	cache    cache.Store
	registry *circuitbreaker.Registry

	db      *circuitbreaker.CircuitBreaker
	cacheCB *circuitbreaker.CircuitBreaker

	dbConfig      *circuitbreaker.Config
	cacheConfig   *circuitbreaker.Config
	mirrorTimeout time.Duration
	recorder      Recorder
	logger        *slog.Logger
	now           func() time.Time

	background sync.WaitGroup
}

func New(store storage.Store, cacheStore cache.Store, registry *circuitbreaker.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:         store,
		cache:         cacheStore,
		registry:      registry,
		mirrorTimeout: defaultMirrorTimeout,
		recorder:      noopRecorder{},
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.db = registry.GetOrCreate(DatabaseBreaker, c.dbConfig, func(ctx context.Context) bool {
		return store.Ping(ctx) == nil
	})
	c.cacheCB = registry.GetOrCreate(CacheBreaker, c.cacheConfig, cacheStore.HealthCheck)

	return c
}

// Wait blocks until every background cache write has finished.
func (c *Coordinator) Wait() {
	c.background.Wait()
}

// Exists reports whether originalURL is already shortened. When the
// database cannot answer it reports false so creation is not blocked.
func (c *Coordinator) Exists(ctx context.Context, originalURL string) bool {
	exists, _ := circuitbreaker.Execute(ctx, c.db,
		func(ctx context.Context) (bool, error) {
			return c.store.ExistsByOriginalURL(ctx, originalURL)
		},
		func(ctx context.Context, err error) (bool, error) {
			c.logger.Warn("Cannot verify url existence, assuming new",
				slog.String("original_url", originalURL),
				slog.Any("error", err))
			return false, nil
		})

	return exists
}

// Lookup returns the record already created for originalURL.
func (c *Coordinator) Lookup(ctx context.Context, originalURL string) (Result, error) {
	out, err := circuitbreaker.Execute(ctx, c.db,
		func(ctx context.Context) (found, error) {
			return c.find(ctx, func(ctx context.Context) (model.ShortURL, error) {
				return c.store.FindByOriginalURL(ctx, originalURL)
			})
		}, nil)
	if err != nil {
		c.logger.Warn("Lookup by original url failed",
			slog.String("original_url", originalURL),
			slog.Any("error", err))
		return Result{}, ErrUnavailable
	}

	if !out.ok {
		return Result{}, ErrNotFound
	}

	return c.result("lookup", out.rec, model.ProvenanceDatabase, ""), nil
}

// Create stores a new mapping. If the database cannot take the write the
// mapping is kept in the cache as a degraded record and returned with a
// cache_fallback provenance and a warning.
func (c *Coordinator) Create(ctx context.Context, shortID, originalURL string) (Result, error) {
	type outcome struct {
		rec      model.ShortURL
		conflict bool
		degraded bool
	}

	out, err := circuitbreaker.Execute(ctx, c.db,
		func(ctx context.Context) (outcome, error) {
			rec, err := c.store.Insert(ctx, shortID, originalURL)
			if errors.Is(err, storage.ErrConflict) {
				return outcome{conflict: true}, nil
			}
			if err != nil {
				return outcome{}, err
			}
			return outcome{rec: rec}, nil
		},
		func(ctx context.Context, err error) (outcome, error) {
			c.logger.Warn("Database write unavailable, storing degraded record",
				slog.String("short_id", shortID),
				slog.Any("error", err))

			now := c.now().UTC()
			rec := model.ShortURL{
				ShortID:     shortID,
				OriginalURL: originalURL,
				CreatedAt:   now,
				UpdatedAt:   now,
			}

			if !c.writeDegraded(ctx, rec) {
				return outcome{}, ErrUnavailable
			}
			return outcome{rec: rec, degraded: true}, nil
		})
	if err != nil {
		return Result{}, err
	}

	if out.conflict {
		return Result{}, ErrConflict
	}

	if out.degraded {
		return c.result("create", out.rec, model.ProvenanceCacheFallback, WarningNotPersisted), nil
	}

	c.mirror("create", func(ctx context.Context) bool {
		return c.cache.CacheMapping(ctx, out.rec.ShortID, out.rec.OriginalURL)
	})

	return c.result("create", out.rec, model.ProvenanceDatabase, ""), nil
}

// Get resolves shortID to its original URL, cache first.
func (c *Coordinator) Get(ctx context.Context, shortID string) (Result, error) {
	cached, err := viaCache(ctx, c, func(ctx context.Context) found {
		m, ok := c.cache.GetMapping(ctx, shortID)
		return found{
			rec:      model.ShortURL{ShortID: shortID, OriginalURL: m.OriginalURL},
			ok:       ok,
			degraded: m.Degraded,
		}
	})
	if err == nil && cached.ok {
		if cached.degraded {
			return c.result("get", cached.rec, model.ProvenanceCacheFallback, WarningNotPersisted), nil
		}
		return c.result("get", cached.rec, model.ProvenanceCache, ""), nil
	}

	var fellBack bool
	out, _ := circuitbreaker.Execute(ctx, c.db,
		func(ctx context.Context) (found, error) {
			return c.find(ctx, func(ctx context.Context) (model.ShortURL, error) {
				return c.store.FindByShortID(ctx, shortID)
			})
		},
		func(ctx context.Context, err error) (found, error) {
			fellBack = true
			rec, ok := c.readDegraded(ctx, shortID)
			return found{rec: rec, ok: ok, degraded: ok}, nil
		})

	if !out.ok {
		// The plain mapping expires before the degraded record does.
		if !fellBack {
			if rec, ok := c.readDegraded(ctx, shortID); ok {
				return c.result("get", rec, model.ProvenanceCacheFallback, WarningNotPersisted), nil
			}
		}
		return Result{}, ErrNotFound
	}

	if out.degraded {
		return c.result("get", out.rec, model.ProvenanceCacheFallback, WarningStale), nil
	}

	c.mirror("warm", func(ctx context.Context) bool {
		return c.cache.CacheMapping(ctx, out.rec.ShortID, out.rec.OriginalURL)
	})

	return c.result("get", out.rec, model.ProvenanceDatabase, ""), nil
}

// GetStats returns the full record with its click count including clicks
// still pending in the cache. ErrUnavailable is returned when the database
// is down and no degraded record exists, which is not the same as
// ErrNotFound.
func (c *Coordinator) GetStats(ctx context.Context, shortID string) (Result, error) {
	out, err := circuitbreaker.Execute(ctx, c.db,
		func(ctx context.Context) (found, error) {
			return c.find(ctx, func(ctx context.Context) (model.ShortURL, error) {
				return c.store.FindByShortID(ctx, shortID)
			})
		},
		func(ctx context.Context, err error) (found, error) {
			rec, ok := c.readDegraded(ctx, shortID)
			if !ok {
				c.logger.Warn("Stats unavailable",
					slog.String("short_id", shortID),
					slog.Any("error", err))
				return found{}, ErrUnavailable
			}
			return found{rec: rec, ok: true, degraded: true}, nil
		})
	if err != nil {
		return Result{}, err
	}

	warning := WarningStale
	if !out.ok {
		rec, ok := c.readDegraded(ctx, shortID)
		if !ok {
			return Result{}, ErrNotFound
		}
		out = found{rec: rec, ok: true, degraded: true}
		warning = WarningNotPersisted
	}

	rec := out.rec
	rec.ClickCount += c.pendingClicks(ctx, shortID)

	if out.degraded {
		return c.result("stats", rec, model.ProvenanceCacheFallback, warning), nil
	}
	return c.result("stats", rec, model.ProvenanceDatabase, ""), nil
}

// RecordClick counts one visit in the cache. When the cache cannot count
// it, the click is written straight to the database instead.
func (c *Coordinator) RecordClick(ctx context.Context, shortID string) error {
	n, err := viaCache(ctx, c, func(ctx context.Context) int64 {
		return c.cache.IncrementClicks(ctx, shortID)
	})
	if err == nil && n > 0 {
		return nil
	}

	_, err = circuitbreaker.Execute(ctx, c.db,
		func(ctx context.Context) ([]string, error) {
			return c.store.ApplyClickDeltas(ctx, []storage.ClickDelta{{ShortID: shortID, Delta: 1}})
		}, nil)
	if err != nil {
		c.logger.Warn("Click lost, no tier could record it",
			slog.String("short_id", shortID),
			slog.Any("error", err))
		return ErrUnavailable
	}

	return nil
}

// Resolve is Get followed by RecordClick. A click that cannot be recorded
// does not fail the resolution.
func (c *Coordinator) Resolve(ctx context.Context, shortID string) (Result, error) {
	res, err := c.Get(ctx, shortID)
	if err != nil {
		return Result{}, err
	}

	_ = c.RecordClick(ctx, shortID)
	return res, nil
}

const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// Health reports breaker state together with live pings of both tiers.
type Health struct {
	Status   string                 `json:"status"`
	Database bool                   `json:"database"`
	Cache    bool                   `json:"cache"`
	Breakers []circuitbreaker.Stats `json:"breakers"`
}

func (c *Coordinator) Health(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		dbUp    bool
		cacheUp bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		dbUp = c.store.Ping(ctx) == nil
	}()
	go func() {
		defer wg.Done()
		cacheUp = c.cache.HealthCheck(ctx)
	}()
	wg.Wait()

	h := Health{
		Status:   HealthOK,
		Database: dbUp,
		Cache:    cacheUp,
		Breakers: c.registry.ListAll(),
	}

	switch {
	case !dbUp && !cacheUp:
		h.Status = HealthDown
	case !dbUp || !cacheUp:
		h.Status = HealthDegraded
	}

	return h
}

type found struct {
	rec      model.ShortURL
	ok       bool
	degraded bool
}

// find turns a confirmed absence into a successful empty result so it is
// not counted against the database breaker.
func (c *Coordinator) find(ctx context.Context, lookup func(ctx context.Context) (model.ShortURL, error)) (found, error) {
	rec, err := lookup(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return found{}, nil
	}
	if err != nil {
		return found{}, err
	}
	return found{rec: rec, ok: true}, nil
}

// viaCache runs a fail-soft cache call through the cache breaker. A call
// made while the store is disconnected counts as a breaker failure.
func viaCache[T any](ctx context.Context, c *Coordinator, op func(ctx context.Context) T) (T, error) {
	return circuitbreaker.Execute(ctx, c.cacheCB,
		func(ctx context.Context) (T, error) {
			v := op(ctx)
			if !c.cache.Connected() {
				return v, errCacheDisconnected
			}
			return v, nil
		}, nil)
}

func (c *Coordinator) readDegraded(ctx context.Context, shortID string) (model.ShortURL, bool) {
	rec, err := viaCache(ctx, c, func(ctx context.Context) found {
		d, ok := c.cache.GetDegraded(ctx, shortID)
		return found{rec: d.ShortURL, ok: ok}
	})
	if err != nil || !rec.ok {
		return model.ShortURL{}, false
	}
	return rec.rec, true
}

func (c *Coordinator) writeDegraded(ctx context.Context, rec model.ShortURL) bool {
	ok, err := viaCache(ctx, c, func(ctx context.Context) bool {
		stored := c.cache.CacheDegraded(ctx, model.DegradedRecord{
			ShortURL:   rec,
			Provenance: model.ProvenanceCacheFallback,
		})
		return stored && c.cache.CacheMapping(ctx, rec.ShortID, rec.OriginalURL)
	})
	return err == nil && ok
}

func (c *Coordinator) pendingClicks(ctx context.Context, shortID string) int64 {
	n, err := viaCache(ctx, c, func(ctx context.Context) int64 {
		return c.cache.PendingClicks(ctx, shortID)
	})
	if err != nil {
		return 0
	}
	return n
}

// mirror runs a best-effort cache write detached from the request. Its
// outcome is only logged and recorded.
func (c *Coordinator) mirror(operation string, write func(ctx context.Context) bool) {
	c.background.Add(1)
	go func() {
		defer c.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.mirrorTimeout)
		defer cancel()

		ok, err := viaCache(ctx, c, write)
		if err == nil && !ok {
			err = errMirrorFailed
		}

		c.recorder.RecordMirror(operation, err)
		if err != nil {
			c.logger.Warn("Cache mirror failed",
				slog.String("operation", operation),
				slog.Any("error", err))
		}
	}()
}

func (c *Coordinator) result(operation string, rec model.ShortURL, p model.Provenance, warning string) Result {
	c.recorder.RecordProvenance(operation, string(p))
	return Result{ShortURL: rec, Provenance: p, Warning: warning}
}
