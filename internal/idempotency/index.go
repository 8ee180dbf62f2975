package idempotency

import (
	"context"
	"fmt"
	"strings"
	"time"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/keystore"
	"intake/internal/logger"
	apperrors "intake/pkg/errors"
	"intake/pkg/metrics"
	"intake/pkg/tracing"
)

// Index answers "have we seen this event" with an atomic check-and-insert.
type Index interface {
	// CheckAndInsert records fp and reports whether it was new. Concurrent callers with
	// the same fp get exactly one true.
	CheckAndInsert(ctx context.Context, fp Fingerprint) (bool, error)
	// Release forgets fp so a later resubmission is treated as new.
	Release(ctx context.Context, fp Fingerprint) error
	Mode() string
}

type Service struct {
	store        keystore.Store
	ttl          time.Duration
	allowOnError bool
	logger       logger.Logger
}

func NewService(store keystore.Store, cfg config.IdempotencyConfig, log logger.Logger) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = constants.DefaultIdempotencyTTL
	}

	return &Service{
		store:        store,
		ttl:          ttl,
		allowOnError: !strings.EqualFold(cfg.OnStoreError, constants.FallbackDeny),
		logger:       log,
	}
}

func (s *Service) CheckAndInsert(ctx context.Context, fp Fingerprint) (bool, error) {
	ctx, span := tracing.GetTracer(constants.ServiceName).Start(ctx, "idempotency.check_and_insert")
	defer span.End()

	isNew, err := s.store.SetNX(ctx, fp.Key(), s.ttl)
	if err != nil {
		return s.handleStoreError(ctx, fp, err)
	}

	result := "duplicate"
	if isNew {
		result = "new"
	}
	metrics.IncIdempotencyCheck(s.store.Mode(), result)
	return isNew, nil
}

func (s *Service) Release(ctx context.Context, fp Fingerprint) error {
	if err := s.store.Delete(ctx, fp.Key()); err != nil {
		return fmt.Errorf("failed to release fingerprint %s: %w", fp, err)
	}
	return nil
}

func (s *Service) Mode() string {
	return s.store.Mode()
}

// handleStoreError applies the configured fallback. Allowing is safe because persistence
// ignores conflicting fingerprints.
func (s *Service) handleStoreError(ctx context.Context, fp Fingerprint, err error) (bool, error) {
	metrics.IncIdempotencyCheck(s.store.Mode(), "error")

	if s.allowOnError {
		metrics.IncFallback("idempotency", "allow_on_error", "store_error")
		s.logger.WarnwCtx(ctx, "Idempotency store error, treating event as new (fallback: allow)",
			"fingerprint", fp.String(),
			"error", err,
		)
		return true, nil
	}

	metrics.IncFallback("idempotency", "deny_on_error", "store_error")
	return false, apperrors.ErrStore.WithCause(err).WithDetail("component", "idempotency_index")
}
