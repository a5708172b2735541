package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/angeloszaimis/url-shortener/internal/access"
	"github.com/angeloszaimis/url-shortener/internal/model"
)

type urlResponse struct {
	ShortURLID  string           `json:"shortUrlId"`
	OriginalURL string           `json:"originalUrl"`
	ClickCount  int64            `json:"clickCount"`
	CreatedAt   time.Time        `json:"createdAt,omitzero"`
	Provenance  model.Provenance `json:"provenance"`
}

type envelope struct {
	Data    any    `json:"data,omitempty"`
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newURLResponse(res access.Result) urlResponse {
	return urlResponse{
		ShortURLID:  res.ShortURL.ShortID,
		OriginalURL: res.ShortURL.OriginalURL,
		ClickCount:  res.ShortURL.ClickCount,
		CreatedAt:   res.ShortURL.CreatedAt,
		Provenance:  res.Provenance,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeResult(w http.ResponseWriter, status int, res access.Result) {
	writeJSON(w, status, envelope{Data: newURLResponse(res), Warning: res.Warning})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Error: msg})
}

// writeUnavailable answers 503 with a Retry-After hint.
func writeUnavailable(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusServiceUnavailable, "storage temporarily unavailable, retry later")
}
