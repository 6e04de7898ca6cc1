// Package kvtest holds the behaviour every kv.Store backend must share.
package kvtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/EternisAI/mailbroker/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises store against the kv.Store contract. store must start empty.
func Run(t *testing.T, store kv.Store) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "get-missing:key")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "set-get:a", "one"))
		require.NoError(t, store.Set(ctx, "set-get:a", "two"))

		value, err := store.Get(ctx, "set-get:a")
		require.NoError(t, err)
		assert.Equal(t, "two", value)
	})

	t.Run("set if absent", func(t *testing.T) {
		ok, err := store.SetNX(ctx, "setnx:a", "first")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.SetNX(ctx, "setnx:a", "second")
		require.NoError(t, err)
		assert.False(t, ok)

		value, err := store.Get(ctx, "setnx:a")
		require.NoError(t, err)
		assert.Equal(t, "first", value)
	})

	t.Run("concurrent set if absent has one winner", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := store.SetNX(ctx, "setnx-race:key", fmt.Sprintf("writer-%d", i))
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "delete:a", "x"))
		require.NoError(t, store.Delete(ctx, "delete:a"))
		require.NoError(t, store.Delete(ctx, "delete:a"))

		_, err := store.Get(ctx, "delete:a")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("increment upserts", func(t *testing.T) {
		value, err := store.IncrBy(ctx, "incr:a", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), value)

		value, err = store.IncrBy(ctx, "incr:a", 4)
		require.NoError(t, err)
		assert.Equal(t, int64(5), value)

		raw, err := store.Get(ctx, "incr:a")
		require.NoError(t, err)
		assert.Equal(t, "5", raw)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.IncrBy(ctx, "incr-race:a", 2)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		raw, err := store.Get(ctx, "incr-race:a")
		require.NoError(t, err)
		assert.Equal(t, "50", raw)
	})

	t.Run("scan by prefix", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "scan:b", "2"))
		require.NoError(t, store.Set(ctx, "scan:a", "1"))
		require.NoError(t, store.Set(ctx, "scanned:c", "3"))

		entries, err := store.Scan(ctx, "scan:")
		require.NoError(t, err)
		assert.Equal(t, []kv.Entry{
			{Key: "scan:a", Value: "1"},
			{Key: "scan:b", Value: "2"},
		}, entries)

		entries, err = store.Scan(ctx, "scan-nothing:")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
