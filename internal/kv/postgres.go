package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/EternisAI/mailbroker/internal/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps entries in the kv_entries table created by the embedded
// goose migrations. Every primitive is a single statement, so the
// conditional insert and the increment are atomic without transactions.
type Postgres struct {
	pool    *pgxpool.Pool
	queries *db.Queries
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		pool:    pool,
		queries: db.New(pool),
	}
}

func (p *Postgres) Get(ctx context.Context, key string) (string, error) {
	value, err := p.queries.GetEntry(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	if err := p.queries.UpsertEntry(ctx, key, value); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) SetNX(ctx context.Context, key, value string) (bool, error) {
	inserted, err := p.queries.InsertEntryIfAbsent(ctx, key, value)
	if err != nil {
		return false, fmt.Errorf("set-if-absent %q: %w", key, err)
	}
	return inserted, nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	if err := p.queries.DeleteEntry(ctx, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	value, err := p.queries.IncrementEntry(ctx, key, delta)
	if err != nil {
		return 0, fmt.Errorf("increment %q: %w", key, err)
	}
	return value, nil
}

func (p *Postgres) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := p.queries.ListEntriesByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}

	result := make([]Entry, len(rows))
	for i, r := range rows {
		result[i] = Entry{Key: r.Key, Value: r.Value}
	}
	return result, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*Postgres)(nil)
