package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/EternisAI/mailbroker/internal/db"
	"github.com/EternisAI/mailbroker/internal/kv"
	"github.com/flowchartsman/retry"
)

const (
	backendPostgres = "postgres"
	backendRedis    = "redis"
	backendMemory   = "memory"

	defaultConnectRetries = 5
	connectInitialDelay   = 500 * time.Millisecond
	connectMaxDelay       = 5 * time.Second
)

// openStore connects the configured backend, retrying while it comes up.
func openStore(ctx context.Context, cfg Config) (kv.Store, error) {
	backend := strings.ToLower(cfg.Store.Backend)
	if backend == "" {
		backend = backendPostgres
	}

	retries := cfg.Store.ConnectRetries
	if retries <= 0 {
		retries = defaultConnectRetries
	}
	retrier := retry.NewRetrier(retries, connectInitialDelay, connectMaxDelay)

	var store kv.Store
	switch backend {
	case backendMemory:
		slog.Warn("Using in-memory store, state is lost on restart")
		return kv.NewMemory(), nil

	case backendPostgres:
		err := retrier.RunContext(ctx, func(ctx context.Context) error {
			pool, err := db.InitDB(ctx, cfg.DB)
			if err != nil {
				slog.Warn("Database not ready", "error", err)
				return err
			}
			store = kv.NewPostgres(pool)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.RunMigrations(cfg.DB.Url, cfg.DB.Schema); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

	case backendRedis:
		err := retrier.RunContext(ctx, func(ctx context.Context) error {
			r, err := kv.NewRedis(ctx, cfg.Redis)
			if err != nil {
				slog.Warn("Redis not ready", "error", err)
				return err
			}
			store = r
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	slog.Info("Store connected", "backend", backend)
	return store, nil
}
