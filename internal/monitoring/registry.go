// Package monitoring records which mail account, if any, each requester is
// currently waiting on.
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/EternisAI/mailbroker/internal/kv"
)

const keyPrefix = "monitor:"

type Resource struct {
	RequesterID string
	Handle      string
}

// Registry does not enforce exclusivity on Set; callers that need the
// at-most-one guarantee use Reserve.
type Registry struct {
	store kv.Store
}

func NewRegistry(store kv.Store) *Registry {
	return &Registry{store: store}
}

func (r *Registry) Get(ctx context.Context, requesterID string) (Resource, bool, error) {
	handle, err := r.store.Get(ctx, keyPrefix+requesterID)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Resource{}, false, nil
		}
		return Resource{}, false, fmt.Errorf("get monitored resource: %w", err)
	}
	return Resource{RequesterID: requesterID, Handle: handle}, true, nil
}

func (r *Registry) Set(ctx context.Context, requesterID, handle string) error {
	if err := r.store.Set(ctx, keyPrefix+requesterID, handle); err != nil {
		return fmt.Errorf("set monitored resource: %w", err)
	}
	return nil
}

// Reserve stores handle only when the requester holds nothing yet.
func (r *Registry) Reserve(ctx context.Context, requesterID, handle string) (bool, error) {
	ok, err := r.store.SetNX(ctx, keyPrefix+requesterID, handle)
	if err != nil {
		return false, fmt.Errorf("reserve monitored resource: %w", err)
	}
	return ok, nil
}

func (r *Registry) Clear(ctx context.Context, requesterID string) error {
	if err := r.store.Delete(ctx, keyPrefix+requesterID); err != nil {
		return fmt.Errorf("clear monitored resource: %w", err)
	}
	return nil
}

func (r *Registry) List(ctx context.Context) ([]Resource, error) {
	entries, err := r.store.Scan(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list monitored resources: %w", err)
	}

	result := make([]Resource, len(entries))
	for i, e := range entries {
		result[i] = Resource{
			RequesterID: strings.TrimPrefix(e.Key, keyPrefix),
			Handle:      e.Value,
		}
	}
	return result, nil
}
