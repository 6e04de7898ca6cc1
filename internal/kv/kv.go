// Package kv is the durable key-value layer every registry is built on.
//
// The registries only need five atomic primitives (get, set, delete,
// increment-with-upsert and set-if-absent) plus a prefix scan for admin
// listings, so any backend offering those can hold the broker's state.
package kv

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

type Entry struct {
	Key   string
	Value string
}

type Store interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	// Set upserts the value.
	Set(ctx context.Context, key, value string) error
	// SetNX stores the value only if the key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string) (bool, error)
	// Delete is idempotent.
	Delete(ctx context.Context, key string) error
	// IncrBy adds delta to an integer value, creating it at delta when absent.
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	// Scan returns every entry whose key starts with prefix, ordered by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}
