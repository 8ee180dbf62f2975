package keystore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/config"
	"intake/internal/constants"
)

func TestMemoryStoreSetNX(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete(ctx, "k"))
	ok, err = s.SetNX(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, constants.ModeLocal, s.Mode())
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := s.SetNX(ctx, "k", time.Minute)
	require.True(t, ok)

	now = now.Add(59 * time.Second)
	ok, _ = s.SetNX(ctx, "k", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, s.Purge())
	assert.Equal(t, 0, s.Len())

	ok, _ = s.SetNX(ctx, "k", time.Minute)
	assert.True(t, ok)
}

func TestMemoryStoreConcurrentSetNX(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SetNX(context.Background(), "same", time.Minute)
			if err == nil && ok {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SetNX(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

type failingStore struct{ calls int }

func (f *failingStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.calls++
	return false, errors.New("connection refused")
}
func (f *failingStore) Delete(ctx context.Context, key string) error { return nil }
func (f *failingStore) Mode() string                                 { return constants.ModeShared }

func TestCircuitBreakerStoreOpens(t *testing.T) {
	inner := &failingStore{}
	s := NewCircuitBreakerStore(inner, "test-keystore", config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})

	for i := 0; i < 2; i++ {
		_, err := s.SetNX(context.Background(), "k", time.Minute)
		require.Error(t, err)
	}

	_, err := s.SetNX(context.Background(), "k", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, constants.ModeShared, s.Mode())
}

func TestCircuitBreakerStoreDisabledPassesThrough(t *testing.T) {
	mem := NewMemoryStore(time.Hour)
	defer mem.Close()
	s := NewCircuitBreakerStore(mem, "disabled", config.CircuitBreakerConfig{})

	ok, err := s.SetNX(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "disabled", s.State())
}
