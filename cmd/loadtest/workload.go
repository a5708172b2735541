package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	opCreate     = "create"
	opRedirect   = "redirect"
	opStatsQuery = "stats"

	seedLinks = 5
)

var (
	domains = []string{"example.com", "test.org", "demo.net", "sample.co"}

	// Redirects dominate real traffic, creations come second.
	weights = []struct {
		op     string
		weight int
	}{
		{opCreate, 3},
		{opRedirect, 7},
		{opStatsQuery, 1},
	}
)

type workloadConfig struct {
	BaseURL     string
	Users       int
	Requests    int
	MinWait     time.Duration
	MaxWait     time.Duration
	RedirectSLO time.Duration
	Timeout     time.Duration
}

type workload struct {
	cfg    workloadConfig
	client *http.Client
	rec    *recorder
	budget atomic.Int64
}

func newWorkload(cfg workloadConfig) *workload {
	w := &workload{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		rec: newRecorder(),
	}
	w.budget.Store(int64(cfg.Requests))
	return w
}

// run drives cfg.Users virtual users until the request budget is spent or
// ctx is cancelled.
func (w *workload) run(ctx context.Context) map[string]Summary {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Users; i++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			u := &user{w: w, rnd: rand.New(rand.NewPCG(seed, uint64(time.Now().UnixNano())))}
			u.loop(ctx)
		}(uint64(i))
	}
	wg.Wait()

	return w.rec.summaries()
}

// take reserves one request from the budget.
func (w *workload) take() bool {
	return w.budget.Add(-1) >= 0
}

type user struct {
	w       *workload
	rnd     *rand.Rand
	created []string
}

func (u *user) loop(ctx context.Context) {
	for i := 0; i < seedLinks; i++ {
		if ctx.Err() != nil || !u.w.take() {
			return
		}
		u.create(ctx)
	}

	for ctx.Err() == nil && u.w.take() {
		switch u.pick() {
		case opCreate:
			u.create(ctx)
		case opRedirect:
			u.redirect(ctx)
		case opStatsQuery:
			u.stats(ctx)
		}
		u.wait(ctx)
	}
}

func (u *user) pick() string {
	total := 0
	for _, w := range weights {
		total += w.weight
	}
	n := u.rnd.IntN(total)
	for _, w := range weights {
		if n < w.weight {
			return w.op
		}
		n -= w.weight
	}
	return opRedirect
}

func (u *user) wait(ctx context.Context) {
	span := u.w.cfg.MaxWait - u.w.cfg.MinWait
	d := u.w.cfg.MinWait
	if span > 0 {
		d += time.Duration(u.rnd.Int64N(int64(span)))
	}
	if d <= 0 {
		return
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (u *user) longURL() string {
	path := make([]byte, 0, 32)
	for i := 0; i < 3; i++ {
		if i > 0 {
			path = append(path, '/')
		}
		for j := 0; j < 10; j++ {
			path = append(path, byte('a'+u.rnd.IntN(26)))
		}
	}
	return fmt.Sprintf("https://%s/%s?param=%d", domains[u.rnd.IntN(len(domains))], path, 1000+u.rnd.IntN(9000))
}

type createResponse struct {
	Data struct {
		ShortURLID string `json:"shortUrlId"`
		ClickCount *int64 `json:"clickCount"`
	} `json:"data"`
}

func (u *user) create(ctx context.Context) {
	payload, _ := json.Marshal(map[string]string{"originalUrl": u.longURL()})

	status, body, d, err := u.do(ctx, http.MethodPost, "/api/v1/urls/", payload)
	ok := err == nil && status == http.StatusCreated
	if ok {
		var res createResponse
		if json.Unmarshal(body, &res) == nil && res.Data.ShortURLID != "" {
			u.created = append(u.created, res.Data.ShortURLID)
		} else {
			ok = false
		}
	}
	u.w.rec.record(opCreate, status, d, ok, false)
}

func (u *user) redirect(ctx context.Context) {
	if len(u.created) == 0 {
		u.create(ctx)
		return
	}

	id := u.created[u.rnd.IntN(len(u.created))]
	status, _, d, err := u.do(ctx, http.MethodGet, "/"+id, nil)

	redirected := err == nil && (status == http.StatusFound || status == http.StatusMovedPermanently)
	slow := redirected && u.w.cfg.RedirectSLO > 0 && d > u.w.cfg.RedirectSLO
	u.w.rec.record(opRedirect, status, d, redirected && !slow, slow)
}

func (u *user) stats(ctx context.Context) {
	if len(u.created) == 0 {
		u.create(ctx)
		return
	}

	id := u.created[u.rnd.IntN(len(u.created))]
	status, body, d, err := u.do(ctx, http.MethodGet, "/api/v1/urls/"+id, nil)

	ok := err == nil && status == http.StatusOK
	if ok {
		var res createResponse
		ok = json.Unmarshal(body, &res) == nil && res.Data.ClickCount != nil
	}
	u.w.rec.record(opStatsQuery, status, d, ok, false)
}

func (u *user) do(ctx context.Context, method, path string, payload []byte) (int, []byte, time.Duration, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.w.cfg.BaseURL+path, body)
	if err != nil {
		return 0, nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := u.w.client.Do(req)
	d := time.Since(start)
	if err != nil {
		return 0, nil, d, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, d, err
}
