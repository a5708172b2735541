package handler_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/url-shortener/internal/handler"
)

var _ = Describe("Middleware", func() {
	var (
		router *chi.Mux
		rec    *responseRecorder
		logs   *bytes.Buffer
		seenID string
	)

	BeforeEach(func() {
		rec = &responseRecorder{}
		logs = &bytes.Buffer{}
		log := slog.New(slog.NewTextHandler(logs, nil))

		router = chi.NewRouter()
		router.Use(handler.RequestID, handler.Observe(log, rec))
		router.Get("/{shortUrlId}", func(w http.ResponseWriter, r *http.Request) {
			seenID = handler.GetRequestID(r.Context())
			w.WriteHeader(http.StatusFound)
		})
		router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
	})

	It("should record the route pattern and status", func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abc", nil))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/xyz", nil))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

		Expect(rec.all()).To(Equal([]observation{
			{route: "/{shortUrlId}", status: http.StatusFound},
			{route: "/{shortUrlId}", status: http.StatusFound},
			{route: "/health", status: http.StatusOK},
		}))
	})

	It("should group unmatched paths", func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a/b/c", nil))

		Expect(rec.all()).To(Equal([]observation{
			{route: "unmatched", status: http.StatusNotFound},
		}))
	})

	It("should assign a request id", func() {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/abc", nil))

		id := w.Header().Get(handler.RequestIDHeader)
		Expect(id).NotTo(BeEmpty())
		Expect(seenID).To(Equal(id))
		Expect(logs.String()).To(ContainSubstring("request_id=" + id))
	})

	It("should keep an incoming request id", func() {
		req := httptest.NewRequest(http.MethodGet, "/abc", nil)
		req.Header.Set(handler.RequestIDHeader, "req-42")
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		Expect(w.Header().Get(handler.RequestIDHeader)).To(Equal("req-42"))
		Expect(seenID).To(Equal("req-42"))
	})
})
