// Package usage counts successful acquisitions per requester.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/EternisAI/mailbroker/internal/kv"
)

const keyPrefix = "usage:"

type Record struct {
	RequesterID string
	Count       int64
}

type Ledger struct {
	store kv.Store
}

func NewLedger(store kv.Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) Increment(ctx context.Context, requesterID string, by int64) error {
	if _, err := l.store.IncrBy(ctx, keyPrefix+requesterID, by); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// Get returns 0 for requesters that never acquired anything.
func (l *Ledger) Get(ctx context.Context, requesterID string) (int64, error) {
	raw, err := l.store.Get(ctx, keyPrefix+requesterID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get usage: %w", err)
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse usage for %s: %w", requesterID, err)
	}
	return count, nil
}

func (l *Ledger) All(ctx context.Context) ([]Record, error) {
	entries, err := l.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	result := make([]Record, 0, len(entries))
	for _, e := range entries {
		count, err := strconv.ParseInt(e.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse usage for %s: %w", e.Key, err)
		}
		result = append(result, Record{
			RequesterID: strings.TrimPrefix(e.Key, keyPrefix),
			Count:       count,
		})
	}
	return result, nil
}

func (l *Ledger) Total(ctx context.Context) (int64, error) {
	records, err := l.All(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, r := range records {
		total += r.Count
	}
	return total, nil
}
