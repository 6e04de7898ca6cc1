package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type KvEntry struct {
	Key   string
	Value string
}

const getEntry = `SELECT value FROM kv_entries WHERE key = $1`

func (q *Queries) GetEntry(ctx context.Context, key string) (string, error) {
	var value string
	err := q.db.QueryRow(ctx, getEntry, key).Scan(&value)
	return value, err
}

const upsertEntry = `
INSERT INTO kv_entries (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

func (q *Queries) UpsertEntry(ctx context.Context, key, value string) error {
	_, err := q.db.Exec(ctx, upsertEntry, key, value)
	return err
}

const insertEntryIfAbsent = `
INSERT INTO kv_entries (key, value)
VALUES ($1, $2)
ON CONFLICT (key) DO NOTHING`

// InsertEntryIfAbsent reports whether the row was inserted.
func (q *Queries) InsertEntryIfAbsent(ctx context.Context, key, value string) (bool, error) {
	tag, err := q.db.Exec(ctx, insertEntryIfAbsent, key, value)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const deleteEntry = `DELETE FROM kv_entries WHERE key = $1`

func (q *Queries) DeleteEntry(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx, deleteEntry, key)
	return err
}

const incrementEntry = `
INSERT INTO kv_entries (key, value)
VALUES ($1, ($2::bigint)::text)
ON CONFLICT (key) DO UPDATE
    SET value = (kv_entries.value::bigint + $2::bigint)::text,
        updated_at = NOW()
RETURNING value::bigint`

func (q *Queries) IncrementEntry(ctx context.Context, key string, delta int64) (int64, error) {
	var value int64
	err := q.db.QueryRow(ctx, incrementEntry, key, delta).Scan(&value)
	return value, err
}

const listEntriesByPrefix = `
SELECT key, value FROM kv_entries
WHERE starts_with(key, $1)
ORDER BY key`

func (q *Queries) ListEntriesByPrefix(ctx context.Context, prefix string) ([]KvEntry, error) {
	rows, err := q.db.Query(ctx, listEntriesByPrefix, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []KvEntry
	for rows.Next() {
		var i KvEntry
		if err := rows.Scan(&i.Key, &i.Value); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
