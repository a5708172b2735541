package metrics

import (
	"maps"
	"sort"
	"sync"
	"time"
)

const maxResponseSamples = 1000

type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	breakers      map[string]*BreakerMetrics
	mirrors       map[string]*MirrorMetrics
	provenance    map[string]map[string]int64
	reconciler    ReconcilerMetrics
	startTime     time.Time
}

type Snapshot struct {
	Service       string                      `json:"service"`
	TotalRequests int64                       `json:"total_requests"`
	Uptime        time.Duration               `json:"uptime"`
	Routes        map[string]RouteMetrics     `json:"routes"`
	Breakers      map[string]BreakerMetrics   `json:"breakers"`
	CacheMirrors  map[string]MirrorMetrics    `json:"cache_mirrors"`
	Provenance    map[string]map[string]int64 `json:"provenance"`
	Reconciler    ReconcilerMetrics           `json:"reconciler"`
	DroppedEvents int64                       `json:"dropped_events"`
}

type RouteMetrics struct {
	Requests    int64         `json:"requests"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

type BreakerMetrics struct {
	State       string `json:"state"`
	Transitions int64  `json:"transitions"`
	Failures    int64  `json:"failures"`
	Successes   int64  `json:"successes"`
}

// MirrorMetrics counts best-effort cache writes that ran off the request path.
type MirrorMetrics struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

type ReconcilerMetrics struct {
	Cycles        int64     `json:"cycles"`
	BatchesOK     int64     `json:"batches_ok"`
	BatchesFailed int64     `json:"batches_failed"`
	KeysFlushed   int64     `json:"keys_flushed"`
	LastCycleAt   time.Time `json:"last_cycle_at,omitzero"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		breakers:      make(map[string]*BreakerMetrics),
		mirrors:       make(map[string]*MirrorMetrics),
		provenance:    make(map[string]map[string]int64),
		startTime:     time.Now(),
	}
}

func (m *Metrics) RecordResponse(route string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requests[route]++
	m.responseTimes[route] = append(m.responseTimes[route], duration)

	if len(m.responseTimes[route]) > maxResponseSamples {
		m.responseTimes[route] = m.responseTimes[route][1:]
	}

	if m.statusCodes[route] == nil {
		m.statusCodes[route] = make(map[int]int64)
	}
	m.statusCodes[route][statusCode]++
}

func (m *Metrics) UpdateBreakerState(name, state string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	b := m.breaker(name)
	b.State = state
	b.Transitions++
}

func (m *Metrics) RecordBreakerOutcome(name, state string, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	b := m.breaker(name)
	if b.State == "" {
		b.State = state
	}
	if success {
		b.Successes++
	} else {
		b.Failures++
	}
}

// breaker must be called with mutex held.
func (m *Metrics) breaker(name string) *BreakerMetrics {
	b, ok := m.breakers[name]
	if !ok {
		b = &BreakerMetrics{}
		m.breakers[name] = b
	}
	return b
}

func (m *Metrics) RecordMirror(operation string, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	mm, ok := m.mirrors[operation]
	if !ok {
		mm = &MirrorMetrics{}
		m.mirrors[operation] = mm
	}
	if success {
		mm.Succeeded++
	} else {
		mm.Failed++
	}
}

func (m *Metrics) RecordProvenance(operation, provenance string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.provenance[operation] == nil {
		m.provenance[operation] = make(map[string]int64)
	}
	m.provenance[operation][provenance]++
}

func (m *Metrics) RecordReconcileBatch(keys int, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if success {
		m.reconciler.BatchesOK++
		m.reconciler.KeysFlushed += int64(keys)
		return
	}
	m.reconciler.BatchesFailed++
}

func (m *Metrics) RecordReconcileCycle(at time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.reconciler.Cycles++
	m.reconciler.LastCycleAt = at
}

func (m *Metrics) Snapshot(service string) Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Service:      service,
		Uptime:       time.Since(m.startTime),
		Routes:       make(map[string]RouteMetrics, len(m.requests)),
		Breakers:     make(map[string]BreakerMetrics, len(m.breakers)),
		CacheMirrors: make(map[string]MirrorMetrics, len(m.mirrors)),
		Provenance:   make(map[string]map[string]int64, len(m.provenance)),
		Reconciler:   m.reconciler,
	}

	for route, count := range m.requests {
		snap.TotalRequests += count

		rm := RouteMetrics{
			Requests:    count,
			StatusCodes: maps.Clone(m.statusCodes[route]),
		}

		durations := m.responseTimes[route]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			rm.AvgResponse = average(sorted)
			rm.P50Response = percentile(sorted, 0.50)
			rm.P95Response = percentile(sorted, 0.95)
			rm.P99Response = percentile(sorted, 0.99)
		}

		snap.Routes[route] = rm
	}

	for name, b := range m.breakers {
		snap.Breakers[name] = *b
	}
	for op, mm := range m.mirrors {
		snap.CacheMirrors[op] = *mm
	}
	for op, counts := range m.provenance {
		snap.Provenance[op] = maps.Clone(counts)
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
