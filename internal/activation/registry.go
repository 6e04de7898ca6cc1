package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/EternisAI/mailbroker/internal/kv"
)

const (
	MinBatchSize = 1
	MaxBatchSize = 50

	// Redraws allowed per requested code before giving up on a batch.
	maxDrawsPerCode = 20

	codePrefix     = "activation:code:"
	claimPrefix    = "activation:claim:"
	claimantPrefix = "activation:claimant:"
)

var (
	ErrKeyNotFound        = errors.New("activation key not found")
	ErrKeyAlreadyClaimed  = errors.New("activation key already claimed")
	ErrInvalidBatchSize   = fmt.Errorf("batch size must be between %d and %d", MinBatchSize, MaxBatchSize)
	ErrInvalidCode        = errors.New("activation code is required")
	ErrCodeSpaceExhausted = errors.New("could not draw enough unique activation codes")
)

// Registry stores single-use activation keys.
//
// Layout: activation:code:<code> marks a key as issued, activation:claim:<code>
// holds its claimant and is only ever written with set-if-absent, and
// activation:claimant:<identity> indexes claimants for IsClaimed.
type Registry struct {
	store    kv.Store
	generate func() string
	now      func() time.Time
}

func NewRegistry(store kv.Store) *Registry {
	return &Registry{
		store:    store,
		generate: GenerateCode,
		now:      time.Now,
	}
}

func (r *Registry) IsClaimed(ctx context.Context, identity string) (bool, error) {
	_, err := r.store.Get(ctx, claimantPrefix+identity)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup claimant: %w", err)
	}
	return true, nil
}

// Claim assigns code to identity. Only one caller can ever win a given code,
// including a repeat claim by the same identity.
func (r *Registry) Claim(ctx context.Context, code string, identity string) error {
	code = NormalizeCode(code)
	if code == "" {
		return ErrInvalidCode
	}

	if _, err := r.store.Get(ctx, codePrefix+code); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("lookup key: %w", err)
	}

	won, err := r.store.SetNX(ctx, claimPrefix+code, identity)
	if err != nil {
		return fmt.Errorf("claim key: %w", err)
	}
	if !won {
		slog.Warn("Activation attempt with claimed key", "code", code, "identity", identity)
		return ErrKeyAlreadyClaimed
	}

	if err := r.store.Set(ctx, claimantPrefix+identity, code); err != nil {
		// Release the code so the same identity can retry.
		if derr := r.store.Delete(ctx, claimPrefix+code); derr != nil {
			slog.Error("Failed to release activation key", "code", code, "error", derr)
		}
		return fmt.Errorf("index claimant: %w", err)
	}

	slog.Info("Activation key claimed", "code", code, "identity", identity)
	return nil
}

// GenerateBatch issues n new unclaimed keys.
func (r *Registry) GenerateBatch(ctx context.Context, n int) ([]string, error) {
	if n < MinBatchSize || n > MaxBatchSize {
		return nil, ErrInvalidBatchSize
	}

	createdAt := r.now().UTC().Format(time.RFC3339)
	codes := make([]string, 0, n)
	for draws := 0; len(codes) < n; draws++ {
		if draws >= n*maxDrawsPerCode {
			return codes, ErrCodeSpaceExhausted
		}

		code := r.generate()
		inserted, err := r.store.SetNX(ctx, codePrefix+code, createdAt)
		if err != nil {
			return codes, fmt.Errorf("store key: %w", err)
		}
		if !inserted {
			slog.Debug("Activation code collision, redrawing", "code", code)
			continue
		}
		codes = append(codes, code)
	}

	slog.Info("Activation keys generated", "count", len(codes))
	return codes, nil
}

// List returns every issued key with its claimant, if any, ordered by code.
func (r *Registry) List(ctx context.Context) ([]Key, error) {
	issued, err := r.store.Scan(ctx, codePrefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	claims, err := r.claims(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Key, len(issued))
	for i, e := range issued {
		code := strings.TrimPrefix(e.Key, codePrefix)
		result[i] = Key{
			Code:     code,
			Claimant: claims[code],
		}
		if t, err := time.Parse(time.RFC3339, e.Value); err == nil {
			result[i].CreatedAt = t
		}
	}
	return result, nil
}

func (r *Registry) ListClaimed(ctx context.Context) ([]Key, error) {
	keys, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	claimed := make([]Key, 0, len(keys))
	for _, k := range keys {
		if k.Claimed() {
			claimed = append(claimed, k)
		}
	}
	return claimed, nil
}

// Claimants returns every identity holding a key.
func (r *Registry) Claimants(ctx context.Context) ([]string, error) {
	entries, err := r.store.Scan(ctx, claimantPrefix)
	if err != nil {
		return nil, fmt.Errorf("list claimants: %w", err)
	}

	result := make([]string, len(entries))
	for i, e := range entries {
		result[i] = strings.TrimPrefix(e.Key, claimantPrefix)
	}
	return result, nil
}

func (r *Registry) claims(ctx context.Context) (map[string]string, error) {
	entries, err := r.store.Scan(ctx, claimPrefix)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}

	result := make(map[string]string, len(entries))
	for _, e := range entries {
		result[strings.TrimPrefix(e.Key, claimPrefix)] = e.Value
	}
	return result, nil
}
