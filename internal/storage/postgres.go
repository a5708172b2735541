package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/angeloszaimis/url-shortener/internal/model"
)

const (
	selectColumns = `short_id, original_url, click_count, created_at, updated_at`

	queryByShortID = `SELECT ` + selectColumns + ` FROM short_urls WHERE short_id = $1`

	queryByOriginalURL = `SELECT ` + selectColumns + ` FROM short_urls WHERE original_url = $1`

	queryExistsByOriginalURL = `SELECT EXISTS (SELECT 1 FROM short_urls WHERE original_url = $1)`

	queryInsert = `INSERT INTO short_urls (short_id, original_url)
		VALUES ($1, $2)
		RETURNING ` + selectColumns

	queryAddClicks = `UPDATE short_urls
		SET click_count = click_count + $2, updated_at = NOW()
		WHERE short_id = $1
		RETURNING short_id`
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect opens a pgx pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Postgres{pool: pool, logger: logger}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) FindByShortID(ctx context.Context, shortID string) (model.ShortURL, error) {
	const op = "storage.FindByShortID"

	rec, err := scanShortURL(p.pool.QueryRow(ctx, queryByShortID, shortID))
	if err != nil {
		return model.ShortURL{}, mapError(op, err)
	}
	return rec, nil
}

func (p *Postgres) FindByOriginalURL(ctx context.Context, originalURL string) (model.ShortURL, error) {
	const op = "storage.FindByOriginalURL"

	rec, err := scanShortURL(p.pool.QueryRow(ctx, queryByOriginalURL, originalURL))
	if err != nil {
		return model.ShortURL{}, mapError(op, err)
	}
	return rec, nil
}

func (p *Postgres) ExistsByOriginalURL(ctx context.Context, originalURL string) (bool, error) {
	const op = "storage.ExistsByOriginalURL"

	var exists bool
	if err := p.pool.QueryRow(ctx, queryExistsByOriginalURL, originalURL).Scan(&exists); err != nil {
		return false, mapError(op, err)
	}
	return exists, nil
}

func (p *Postgres) Insert(ctx context.Context, shortID, originalURL string) (model.ShortURL, error) {
	const op = "storage.Insert"

	rec, err := scanShortURL(p.pool.QueryRow(ctx, queryInsert, shortID, originalURL))
	if err != nil {
		return model.ShortURL{}, mapError(op, err)
	}
	return rec, nil
}

func (p *Postgres) ApplyClickDeltas(ctx context.Context, deltas []ClickDelta) ([]string, error) {
	const op = "storage.ApplyClickDeltas"

	if len(deltas) == 0 {
		return nil, nil
	}

	var updated []string
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, d := range deltas {
			batch.Queue(queryAddClicks, d.ShortID, d.Delta)
		}

		results := tx.SendBatch(ctx, batch)
		for _, d := range deltas {
			var id string
			err := results.QueryRow().Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				p.logger.Debug("Skipping clicks for unknown short url",
					slog.String("short_id", d.ShortID),
					slog.Int64("delta", d.Delta))
				continue
			}
			if err != nil {
				_ = results.Close()
				return fmt.Errorf("add %d clicks to %s: %w", d.Delta, d.ShortID, err)
			}
			updated = append(updated, id)
		}

		return results.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return updated, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func scanShortURL(row pgx.Row) (model.ShortURL, error) {
	var rec model.ShortURL
	err := row.Scan(&rec.ShortID, &rec.OriginalURL, &rec.ClickCount, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func mapError(op string, err error) error {
	var pgErr *pgconn.PgError

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)

	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, ErrConflict)

	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
