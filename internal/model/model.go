// Package model holds the records shared by the storage tiers.
package model

import "time"

// Provenance tags which tier produced a result.
type Provenance string

const (
	ProvenanceDatabase      Provenance = "database"
	ProvenanceCache         Provenance = "cache"
	ProvenanceCacheFallback Provenance = "cache_fallback"
)

// ShortURL is the authoritative mapping kept by the durable store.
// ClickCount only grows, and only through the reconciler.
type ShortURL struct {
	ShortID     string    `json:"shortUrlId"`
	OriginalURL string    `json:"originalUrl"`
	ClickCount  int64     `json:"clickCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// DegradedRecord stands in for a ShortURL that could not be written to the
// durable store. It lives in the cache only and is never promoted.
type DegradedRecord struct {
	ShortURL
	Provenance Provenance `json:"provenance"`
}
