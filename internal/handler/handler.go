package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angeloszaimis/url-shortener/internal/access"
	"github.com/angeloszaimis/url-shortener/internal/shortid"
)

const (
	maxBodyBytes      = 8 << 10
	maxCreateAttempts = 3
	defaultRetryAfter = 30 * time.Second
)

// Service is the part of the access layer the HTTP API needs.
type Service interface {
	Exists(ctx context.Context, originalURL string) bool
	Lookup(ctx context.Context, originalURL string) (access.Result, error)
	Create(ctx context.Context, shortID, originalURL string) (access.Result, error)
	Resolve(ctx context.Context, shortID string) (access.Result, error)
	GetStats(ctx context.Context, shortID string) (access.Result, error)
	Health(ctx context.Context) access.Health
}

// IDGenerator hands out candidate short ids.
type IDGenerator interface {
	Generate() (string, error)
}

type Option func(*URLHandler)

// WithRetryAfter sets the Retry-After hint sent with 503 responses.
func WithRetryAfter(d time.Duration) Option {
	return func(h *URLHandler) {
		if d > 0 {
			h.retryAfter = d
		}
	}
}

type URLHandler struct {
	logger     *slog.Logger
	service    Service
	ids        IDGenerator
	retryAfter time.Duration
}

func NewURLHandler(logger *slog.Logger, service Service, ids IDGenerator, opts ...Option) *URLHandler {
	h := &URLHandler{
		logger:     logger,
		service:    service,
		ids:        ids,
		retryAfter: defaultRetryAfter,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Register mounts the API routes on r.
func (h *URLHandler) Register(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api/v1/urls", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{shortUrlId}", h.Stats)
	})

	r.Get("/{shortUrlId}", h.Redirect)
}

// Create shortens a URL. A URL that was shortened before is answered with
// its existing record and 200 instead of 201.
func (h *URLHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is empty")
			return
		}
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.service.Exists(ctx, req.OriginalURL) {
		if res, err := h.service.Lookup(ctx, req.OriginalURL); err == nil {
			writeResult(w, http.StatusOK, res)
			return
		}
	}

	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		id, err := h.ids.Generate()
		if err != nil {
			h.logger.Error("Failed to generate short id", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "could not generate short id")
			return
		}

		res, err := h.service.Create(ctx, id, req.OriginalURL)
		switch {
		case err == nil:
			writeResult(w, http.StatusCreated, res)
			return
		case errors.Is(err, access.ErrConflict):
			// Either the id collided or the URL was created concurrently.
			if existing, err := h.service.Lookup(ctx, req.OriginalURL); err == nil {
				writeResult(w, http.StatusOK, existing)
				return
			}
			h.logger.Debug("Short id collision, retrying",
				slog.String("short_id", id),
				slog.Int("attempt", attempt))
		case errors.Is(err, access.ErrUnavailable):
			writeUnavailable(w, h.retryAfter)
			return
		default:
			h.logger.Error("Create failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	h.logger.Warn("Gave up allocating a short id", slog.Int("attempts", maxCreateAttempts))
	writeError(w, http.StatusConflict, "could not allocate a unique short id")
}

// Redirect sends the client to the original URL and counts the click.
func (h *URLHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "shortUrlId")
	if !shortid.Valid(id) {
		writeError(w, http.StatusNotFound, "short url not found")
		return
	}

	res, err := h.service.Resolve(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	if res.Warning != "" {
		w.Header().Set("Warning", `199 - "`+res.Warning+`"`)
	}
	http.Redirect(w, r, res.ShortURL.OriginalURL, http.StatusFound)
}

// Stats returns the record with its click count, including clicks not yet
// flushed to the database.
func (h *URLHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "shortUrlId")
	if !shortid.Valid(id) {
		writeError(w, http.StatusNotFound, "short url not found")
		return
	}

	res, err := h.service.GetStats(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}

	writeResult(w, http.StatusOK, res)
}

func (h *URLHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.service.Health(r.Context())

	status := http.StatusOK
	if health.Status == access.HealthDown {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}

func (h *URLHandler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrNotFound):
		writeError(w, http.StatusNotFound, "short url not found")
	case errors.Is(err, access.ErrUnavailable):
		writeUnavailable(w, h.retryAfter)
	default:
		h.logger.Error("Lookup failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
