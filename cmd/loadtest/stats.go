package main

import (
	"sort"
	"sync"
	"time"
)

// opStats collects outcomes for one operation type.
type opStats struct {
	Count     int           `json:"count"`
	Success   int           `json:"success"`
	Failure   int           `json:"failure"`
	Slow      int           `json:"slow"`
	Statuses  map[int]int   `json:"statuses"`
	latencies []time.Duration
}

type Summary struct {
	Count   int     `json:"count"`
	Success int     `json:"success"`
	Failure int     `json:"failure"`
	Slow    int     `json:"slow"`
	MinMS   float64 `json:"min_ms"`
	AvgMS   float64 `json:"avg_ms"`
	MaxMS   float64 `json:"max_ms"`
	P50MS   float64 `json:"p50_ms"`
	P90MS   float64 `json:"p90_ms"`
	P95MS   float64 `json:"p95_ms"`
	P99MS   float64 `json:"p99_ms"`

	Statuses map[int]int `json:"statuses"`
}

// recorder is shared by all virtual users.
type recorder struct {
	mutex sync.Mutex
	ops   map[string]*opStats
}

func newRecorder() *recorder {
	return &recorder{ops: make(map[string]*opStats)}
}

func (r *recorder) record(op string, status int, d time.Duration, ok, slow bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s, exists := r.ops[op]
	if !exists {
		s = &opStats{Statuses: make(map[int]int)}
		r.ops[op] = s
	}

	s.Count++
	if ok {
		s.Success++
	} else {
		s.Failure++
	}
	if slow {
		s.Slow++
	}
	s.Statuses[status]++
	s.latencies = append(s.latencies, d)
}

func (r *recorder) summaries() map[string]Summary {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make(map[string]Summary, len(r.ops))
	for op, s := range r.ops {
		out[op] = summarize(s)
	}
	return out
}

func summarize(s *opStats) Summary {
	sum := Summary{
		Count:    s.Count,
		Success:  s.Success,
		Failure:  s.Failure,
		Slow:     s.Slow,
		Statuses: make(map[int]int, len(s.Statuses)),
	}
	for k, v := range s.Statuses {
		sum.Statuses[k] = v
	}

	if len(s.latencies) == 0 {
		return sum
	}

	tmp := make([]time.Duration, len(s.latencies))
	copy(tmp, s.latencies)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })

	var total time.Duration
	for _, d := range tmp {
		total += d
	}

	pick := func(p float64) float64 {
		return ms(tmp[int(float64(len(tmp)-1)*p)])
	}

	sum.MinMS = ms(tmp[0])
	sum.MaxMS = ms(tmp[len(tmp)-1])
	sum.AvgMS = ms(total / time.Duration(len(tmp)))
	sum.P50MS = pick(0.50)
	sum.P90MS = pick(0.90)
	sum.P95MS = pick(0.95)
	sum.P99MS = pick(0.99)

	return sum
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
