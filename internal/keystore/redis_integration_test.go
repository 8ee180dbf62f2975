//go:build integration

package keystore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/constants"
	"intake/internal/testinfra"
)

func TestRedisStore_SetNX(t *testing.T) {
	client := testinfra.Redis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "test:key1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "test:key1", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Delete(ctx, "test:key1"))
	ok, err = store.SetNX(ctx, "test:key1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, constants.ModeShared, store.Mode())
}

func TestRedisStore_TTL(t *testing.T) {
	client := testinfra.Redis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "test:ttl", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(2 * time.Second)

	ok, err = store.SetNX(ctx, "test:ttl", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_ConcurrentSetNX(t *testing.T) {
	client := testinfra.Redis(t)
	store := NewRedisStore(client)

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.SetNX(context.Background(), "test:race", time.Minute)
			if err == nil && ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)

	count, err := store.Count(context.Background(), "test:")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
