package testutils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/url-shortener/internal/cache"
	"github.com/angeloszaimis/url-shortener/internal/model"
	"github.com/angeloszaimis/url-shortener/internal/storage"
)

var ErrDatabaseDown = errors.New("database down")

// FakeStore is an in-memory storage.Store that counts calls and can be
// told to fail.
type FakeStore struct {
	mutex     sync.Mutex
	records   map[string]model.ShortURL
	failErr   error
	applyFail func(deltas []storage.ClickDelta) error

	calls       atomic.Int32
	insertCalls atomic.Int32
	applyCalls  atomic.Int32
}

var _ storage.Store = (*FakeStore)(nil)

func NewFakeStore() *FakeStore {
	return &FakeStore{records: make(map[string]model.ShortURL)}
}

// Fail makes every call return err until called again with nil.
func (f *FakeStore) Fail(err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.failErr = err
}

// FailApply lets a test reject chosen ApplyClickDeltas batches.
func (f *FakeStore) FailApply(fn func(deltas []storage.ClickDelta) error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.applyFail = fn
}

func (f *FakeStore) Put(rec model.ShortURL) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.records[rec.ShortID] = rec
}

func (f *FakeStore) Record(id string) (model.ShortURL, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	rec, ok := f.records[id]
	return rec, ok
}

func (f *FakeStore) Clicks(id string) int64 {
	rec, _ := f.Record(id)
	return rec.ClickCount
}

func (f *FakeStore) Calls() int32       { return f.calls.Load() }
func (f *FakeStore) InsertCalls() int32 { return f.insertCalls.Load() }
func (f *FakeStore) ApplyCalls() int32  { return f.applyCalls.Load() }

func (f *FakeStore) enter() error {
	f.calls.Add(1)
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.failErr
}

func (f *FakeStore) Ping(ctx context.Context) error {
	return f.enter()
}

func (f *FakeStore) FindByShortID(ctx context.Context, shortID string) (model.ShortURL, error) {
	if err := f.enter(); err != nil {
		return model.ShortURL{}, err
	}
	rec, ok := f.Record(shortID)
	if !ok {
		return model.ShortURL{}, storage.ErrNotFound
	}
	return rec, nil
}

func (f *FakeStore) FindByOriginalURL(ctx context.Context, originalURL string) (model.ShortURL, error) {
	if err := f.enter(); err != nil {
		return model.ShortURL{}, err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, rec := range f.records {
		if rec.OriginalURL == originalURL {
			return rec, nil
		}
	}
	return model.ShortURL{}, storage.ErrNotFound
}

func (f *FakeStore) ExistsByOriginalURL(ctx context.Context, originalURL string) (bool, error) {
	_, err := f.FindByOriginalURL(ctx, originalURL)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *FakeStore) Insert(ctx context.Context, shortID, originalURL string) (model.ShortURL, error) {
	f.insertCalls.Add(1)
	if err := f.enter(); err != nil {
		return model.ShortURL{}, err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for _, rec := range f.records {
		if rec.ShortID == shortID || rec.OriginalURL == originalURL {
			return model.ShortURL{}, storage.ErrConflict
		}
	}
	now := time.Now().UTC()
	rec := model.ShortURL{ShortID: shortID, OriginalURL: originalURL, CreatedAt: now, UpdatedAt: now}
	f.records[shortID] = rec
	return rec, nil
}

// ApplyClickDeltas is all-or-nothing like the real transaction.
func (f *FakeStore) ApplyClickDeltas(ctx context.Context, deltas []storage.ClickDelta) ([]string, error) {
	f.applyCalls.Add(1)
	if err := f.enter(); err != nil {
		return nil, err
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.applyFail != nil {
		if err := f.applyFail(deltas); err != nil {
			return nil, err
		}
	}

	var updated []string
	for _, d := range deltas {
		rec, ok := f.records[d.ShortID]
		if !ok {
			continue
		}
		rec.ClickCount += d.Delta
		f.records[d.ShortID] = rec
		updated = append(updated, d.ShortID)
	}
	return updated, nil
}

func (f *FakeStore) Close() {}

// FakeCache is an in-memory cache.Store. While down it behaves like the
// fail-soft Redis store during an outage.
type FakeCache struct {
	mutex    sync.Mutex
	values   map[string]string
	degraded map[string]model.DegradedRecord
	counters map[string]int64
	down     atomic.Bool
	noSettle atomic.Bool

	mappingReads atomic.Int32
}

var _ cache.Store = (*FakeCache)(nil)

func NewFakeCache() *FakeCache {
	return &FakeCache{
		values:   make(map[string]string),
		degraded: make(map[string]model.DegradedRecord),
		counters: make(map[string]int64),
	}
}

func (f *FakeCache) SetDown(down bool) { f.down.Store(down) }

// SkipSettle simulates a crash between the database commit and the counter
// cleanup.
func (f *FakeCache) SkipSettle(skip bool) { f.noSettle.Store(skip) }

// SetCounter writes a raw counter value, zero included.
func (f *FakeCache) SetCounter(id string, n int64) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.counters[cache.CounterKey(id)] = n
}

// Counters returns a copy of every pending counter keyed by counter key.
func (f *FakeCache) Counters() map[string]int64 {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := make(map[string]int64, len(f.counters))
	for k, v := range f.counters {
		out[k] = v
	}
	return out
}

func (f *FakeCache) MappingReads() int32 { return f.mappingReads.Load() }

func (f *FakeCache) Connected() bool { return !f.down.Load() }

func (f *FakeCache) Get(ctx context.Context, key string) (string, bool) {
	if f.down.Load() {
		return "", false
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	v, ok := f.values[key]
	return v, ok
}

func (f *FakeCache) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if f.down.Load() {
		return false
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.values[key] = value
	return true
}

func (f *FakeCache) Delete(ctx context.Context, key string) bool {
	if f.down.Load() {
		return false
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	_, ok := f.values[key]
	delete(f.values, key)
	return ok
}

func (f *FakeCache) Exists(ctx context.Context, key string) bool {
	_, ok := f.Get(ctx, key)
	return ok
}

func (f *FakeCache) Increment(ctx context.Context, key string, by int64) int64 {
	if f.down.Load() {
		return 0
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.counters[key] += by
	return f.counters[key]
}

func (f *FakeCache) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	return f.Exists(ctx, key)
}

func (f *FakeCache) HealthCheck(ctx context.Context) bool { return !f.down.Load() }

func (f *FakeCache) CacheMapping(ctx context.Context, id, originalURL string) bool {
	return f.Set(ctx, cache.MappingKey(id), originalURL, cache.DefaultMappingTTL)
}

func (f *FakeCache) GetMapping(ctx context.Context, id string) (cache.Mapping, bool) {
	f.mappingReads.Add(1)
	url, ok := f.Get(ctx, cache.MappingKey(id))
	if !ok {
		return cache.Mapping{}, false
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	_, degraded := f.degraded[id]
	return cache.Mapping{OriginalURL: url, Degraded: degraded}, true
}

func (f *FakeCache) DeleteMapping(ctx context.Context, id string) bool {
	return f.Delete(ctx, cache.MappingKey(id))
}

func (f *FakeCache) CacheDegraded(ctx context.Context, rec model.DegradedRecord) bool {
	if f.down.Load() {
		return false
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.degraded[rec.ShortID] = rec
	return true
}

func (f *FakeCache) GetDegraded(ctx context.Context, id string) (model.DegradedRecord, bool) {
	if f.down.Load() {
		return model.DegradedRecord{}, false
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	rec, ok := f.degraded[id]
	return rec, ok
}

func (f *FakeCache) IncrementClicks(ctx context.Context, id string) int64 {
	return f.Increment(ctx, cache.CounterKey(id), 1)
}

func (f *FakeCache) PendingClicks(ctx context.Context, id string) int64 {
	if f.down.Load() {
		return 0
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.counters[cache.CounterKey(id)]
}

func (f *FakeCache) ListPendingCounterKeys(ctx context.Context) []string {
	if f.down.Load() {
		return nil
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var keys []string
	for k := range f.counters {
		if strings.HasPrefix(k, cache.CounterKey("")) {
			keys = append(keys, k)
		}
	}
	return keys
}

func (f *FakeCache) ReadCounters(ctx context.Context, keys []string) map[string]int64 {
	if f.down.Load() {
		return nil
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		if v, ok := f.counters[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (f *FakeCache) DeleteCounters(ctx context.Context, keys []string) int64 {
	if f.down.Load() {
		return 0
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.counters[k]; ok {
			delete(f.counters, k)
			n++
		}
	}
	return n
}

func (f *FakeCache) SettleCounters(ctx context.Context, applied map[string]int64) int64 {
	if f.down.Load() || f.noSettle.Load() {
		return 0
	}
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var n int64
	for k, v := range applied {
		f.counters[k] -= v
		if f.counters[k] <= 0 {
			delete(f.counters, k)
			n++
		}
	}
	return n
}

func (f *FakeCache) Close() error { return nil }
