package keystore

import (
	"context"
	"fmt"
	"time"

	"intake/internal/config"
	"intake/pkg/circuitbreaker"
)

// CircuitBreakerStore fails fast while the underlying store keeps erroring.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, name string, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig = circuitbreaker.RatioConfig(name, cbConfig.MaxRequests, cbConfig.Interval, cbConfig.Timeout, cfg.FailureRatio, cfg.MinRequests)
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s.cb == nil {
		return s.store.SetNX(ctx, key, ttl)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.SetNX(ctx, key, ttl)
	})
	if err != nil {
		if circuitbreaker.IsRejection(err) {
			return false, fmt.Errorf("circuit breaker is open for %s: %w", s.cb.Name(), err)
		}
		return false, err
	}

	stored, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("store returned invalid result type")
	}

	return stored, nil
}

func (s *CircuitBreakerStore) Delete(ctx context.Context, key string) error {
	if s.cb == nil {
		return s.store.Delete(ctx, key)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.Delete(ctx, key)
	})
	return err
}

func (s *CircuitBreakerStore) Mode() string {
	return s.store.Mode()
}

func (s *CircuitBreakerStore) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}
