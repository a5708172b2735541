package storage

import (
	"context"
	"errors"

	"github.com/angeloszaimis/url-shortener/internal/model"
)

var (
	ErrNotFound = errors.New("short url not found")
	ErrConflict = errors.New("short url already exists")
)

// ClickDelta is a pending click count to add to one record.
type ClickDelta struct {
	ShortID string
	Delta   int64
}

// Store is the durable store contract.
type Store interface {
	Ping(ctx context.Context) error
	FindByShortID(ctx context.Context, shortID string) (model.ShortURL, error)
	FindByOriginalURL(ctx context.Context, originalURL string) (model.ShortURL, error)
	ExistsByOriginalURL(ctx context.Context, originalURL string) (bool, error)
	Insert(ctx context.Context, shortID, originalURL string) (model.ShortURL, error)
	// ApplyClickDeltas adds every delta inside one transaction and returns
	// the ids that were updated. Deltas for unknown ids are skipped and left
	// out of the result. On error nothing is applied.
	ApplyClickDeltas(ctx context.Context, deltas []ClickDelta) ([]string, error)
	Close()
}
