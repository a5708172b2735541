package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/url-shortener/internal/access"
	"github.com/angeloszaimis/url-shortener/internal/circuitbreaker"
	"github.com/angeloszaimis/url-shortener/internal/handler"
	"github.com/angeloszaimis/url-shortener/internal/model"
	"github.com/angeloszaimis/url-shortener/internal/testutils"
)

type body struct {
	Data struct {
		ShortURLID  string    `json:"shortUrlId"`
		OriginalURL string    `json:"originalUrl"`
		ClickCount  int64     `json:"clickCount"`
		CreatedAt   time.Time `json:"createdAt"`
		Provenance  string    `json:"provenance"`
	} `json:"data"`
	Warning string `json:"warning"`
	Error   string `json:"error"`
}

var _ = Describe("URLHandler", func() {
	var (
		store       *testutils.FakeStore
		cacheStore  *testutils.FakeCache
		registry    *circuitbreaker.Registry
		coordinator *access.Coordinator
		ids         *sequenceIDs
		router      chi.Router
		ctx         context.Context
	)

	existing := model.ShortURL{
		ShortID:     "abc1234",
		OriginalURL: "https://example.com/existing",
		ClickCount:  10,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	do := func(method, target, payload string) *httptest.ResponseRecorder {
		var reader io.Reader
		if payload != "" {
			reader = strings.NewReader(payload)
		}
		req := httptest.NewRequest(method, target, reader)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) body {
		var b body
		Expect(json.Unmarshal(w.Body.Bytes(), &b)).To(Succeed())
		return b
	}

	BeforeEach(func() {
		ctx = context.Background()
		log := slog.New(slog.NewTextHandler(io.Discard, nil))

		store = testutils.NewFakeStore()
		cacheStore = testutils.NewFakeCache()
		registry = circuitbreaker.NewRegistry(circuitbreaker.Config{
			FailureThreshold: 1,
			SuccessThreshold: 1,
			Timeout:          time.Hour,
			MonitoringWindow: time.Minute,
		})
		coordinator = access.New(store, cacheStore, registry, access.WithLogger(log))
		ids = &sequenceIDs{ids: []string{"AAAAAAA", "BBBBBBB", "CCCCCCC", "DDDDDDD"}}

		h := handler.NewURLHandler(log, coordinator, ids, handler.WithRetryAfter(15*time.Second))
		router = chi.NewRouter()
		h.Register(router)
	})

	AfterEach(func() {
		coordinator.Wait()
		registry.Close()
	})

	Describe("POST /api/v1/urls/", func() {
		It("should create a short url", func() {
			w := do(http.MethodPost, "/api/v1/urls/", `{"originalUrl":"https://example.com/new"}`)

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(w.Header().Get("Content-Type")).To(Equal("application/json"))

			b := decode(w)
			Expect(b.Data.ShortURLID).To(Equal("AAAAAAA"))
			Expect(b.Data.OriginalURL).To(Equal("https://example.com/new"))
			Expect(b.Data.Provenance).To(Equal(string(model.ProvenanceDatabase)))
			Expect(b.Warning).To(BeEmpty())

			_, ok := store.Record("AAAAAAA")
			Expect(ok).To(BeTrue())
		})

		It("should return the existing record for a known url", func() {
			store.Put(existing)

			w := do(http.MethodPost, "/api/v1/urls/", `{"originalUrl":"https://example.com/existing"}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w).Data.ShortURLID).To(Equal(existing.ShortID))
			Expect(store.InsertCalls()).To(BeZero())
		})

		It("should retry with a fresh id after a collision", func() {
			store.Put(model.ShortURL{ShortID: "AAAAAAA", OriginalURL: "https://example.com/other"})

			w := do(http.MethodPost, "/api/v1/urls/", `{"originalUrl":"https://example.com/new"}`)

			Expect(w.Code).To(Equal(http.StatusCreated))
			Expect(decode(w).Data.ShortURLID).To(Equal("BBBBBBB"))
			Expect(store.InsertCalls()).To(Equal(int32(2)))
		})

		It("should give up after repeated collisions", func() {
			for _, id := range []string{"AAAAAAA", "BBBBBBB", "CCCCCCC"} {
				store.Put(model.ShortURL{ShortID: id, OriginalURL: "https://example.com/" + id})
			}

			w := do(http.MethodPost, "/api/v1/urls/", `{"originalUrl":"https://example.com/new"}`)

			Expect(w.Code).To(Equal(http.StatusConflict))
			Expect(store.InsertCalls()).To(Equal(int32(3)))
		})

		It("should fail when no id can be generated", func() {
			ids.ids = nil

			w := do(http.MethodPost, "/api/v1/urls/", `{"originalUrl":"https://example.com/new"}`)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})

		DescribeTable("should reject invalid requests",
			func(payload string) {
				w := do(http.MethodPost, "/api/v1/urls/", payload)

				Expect(w.Code).To(Equal(http.StatusBadRequest))
				Expect(decode(w).Error).NotTo(BeEmpty())
				Expect(store.Calls()).To(BeZero())
			},
			Entry("empty body", ""),
			Entry("not json", "originalUrl=https://example.com"),
			Entry("missing url", `{}`),
			Entry("not a url", `{"originalUrl":"not a url"}`),
			Entry("unsupported scheme", `{"originalUrl":"ftp://example.com/file"}`),
			Entry("too long", `{"originalUrl":"https://example.com/`+strings.Repeat("a", 2100)+`"}`),
		)

		Context("when the database is down", func() {
			BeforeEach(func() {
				store.Fail(testutils.ErrDatabaseDown)
			})

			It("should keep the link in the cache and warn", func() {
				w := do(http.MethodPost, "/api/v1/urls/", `{"originalUrl":"https://example.com/new"}`)

				Expect(w.Code).To(Equal(http.StatusCreated))
				b := decode(w)
				Expect(b.Data.ShortURLID).To(Equal("AAAAAAA"))
				Expect(b.Data.Provenance).To(Equal(string(model.ProvenanceCacheFallback)))
				Expect(b.Warning).To(Equal(access.WarningNotPersisted))

				_, ok := cacheStore.GetDegraded(ctx, "AAAAAAA")
				Expect(ok).To(BeTrue())
			})

			It("should answer 503 when the cache is down too", func() {
				cacheStore.SetDown(true)

				w := do(http.MethodPost, "/api/v1/urls/", `{"originalUrl":"https://example.com/new"}`)

				Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
				Expect(w.Header().Get("Retry-After")).To(Equal("15"))
			})
		})
	})

	Describe("GET /{shortUrlId}", func() {
		It("should redirect and count the click", func() {
			store.Put(existing)

			w := do(http.MethodGet, "/"+existing.ShortID, "")

			Expect(w.Code).To(Equal(http.StatusFound))
			Expect(w.Header().Get("Location")).To(Equal(existing.OriginalURL))
			Expect(cacheStore.PendingClicks(ctx, existing.ShortID)).To(Equal(int64(1)))
		})

		It("should redirect links that only live in the cache", func() {
			store.Fail(testutils.ErrDatabaseDown)
			_, err := coordinator.Create(ctx, "EEEEEEE", "https://example.com/degraded")
			Expect(err).NotTo(HaveOccurred())

			w := do(http.MethodGet, "/EEEEEEE", "")

			Expect(w.Code).To(Equal(http.StatusFound))
			Expect(w.Header().Get("Location")).To(Equal("https://example.com/degraded"))
			Expect(w.Header().Get("Warning")).To(ContainSubstring(access.WarningNotPersisted))
		})

		It("should answer 404 for an unknown id", func() {
			w := do(http.MethodGet, "/ZZZZZZZ", "")

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("should not touch the stores for a malformed id", func() {
			w := do(http.MethodGet, "/"+strings.Repeat("x", 40), "")

			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(store.Calls()).To(BeZero())
			Expect(cacheStore.MappingReads()).To(BeZero())
		})
	})

	Describe("GET /api/v1/urls/{shortUrlId}", func() {
		It("should include clicks pending in the cache", func() {
			store.Put(existing)
			cacheStore.SetCounter(existing.ShortID, 5)

			w := do(http.MethodGet, "/api/v1/urls/"+existing.ShortID, "")

			Expect(w.Code).To(Equal(http.StatusOK))
			b := decode(w)
			Expect(b.Data.ClickCount).To(Equal(int64(15)))
			Expect(b.Data.CreatedAt).To(BeTemporally("==", existing.CreatedAt))
			Expect(b.Data.Provenance).To(Equal(string(model.ProvenanceDatabase)))
		})

		It("should answer 404 for an unknown id", func() {
			w := do(http.MethodGet, "/api/v1/urls/ZZZZZZZ", "")

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("should answer 503 when existence cannot be decided", func() {
			store.Fail(testutils.ErrDatabaseDown)

			w := do(http.MethodGet, "/api/v1/urls/"+existing.ShortID, "")

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
			Expect(w.Header().Get("Retry-After")).To(Equal("15"))
		})
	})

	Describe("GET /health", func() {
		It("should report ok when both tiers answer", func() {
			w := do(http.MethodGet, "/health", "")

			Expect(w.Code).To(Equal(http.StatusOK))

			var h access.Health
			Expect(json.Unmarshal(w.Body.Bytes(), &h)).To(Succeed())
			Expect(h.Status).To(Equal(access.HealthOK))
			Expect(h.Breakers).To(HaveLen(2))
		})

		It("should stay 200 while degraded", func() {
			cacheStore.SetDown(true)

			w := do(http.MethodGet, "/health", "")

			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("should answer 503 when both tiers are down", func() {
			store.Fail(testutils.ErrDatabaseDown)
			cacheStore.SetDown(true)

			w := do(http.MethodGet, "/health", "")

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		})
	})
})
