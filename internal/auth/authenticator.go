package auth

import (
	"context"
	"time"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/logger"
	apperrors "intake/pkg/errors"
	"intake/pkg/metrics"
	"intake/pkg/tracing"
)

type Result struct {
	PeerID string
}

// Authenticator verifies signed requests from registered peers and rejects replays.
type Authenticator struct {
	peers    *PeerCredentials
	nonces   *NonceStore
	maxSkew  time.Duration
	nonceTTL time.Duration
	timeout  time.Duration
	logger   logger.Logger
	now      func() time.Time
}

func NewAuthenticator(peers *PeerCredentials, nonces *NonceStore, cfg config.AuthConfig, log logger.Logger) *Authenticator {
	a := &Authenticator{
		peers:    peers,
		nonces:   nonces,
		maxSkew:  cfg.MaxSkew,
		nonceTTL: cfg.NonceTTL,
		timeout:  cfg.Timeout,
		logger:   log,
		now:      time.Now,
	}
	if a.maxSkew <= 0 {
		a.maxSkew = constants.DefaultMaxSkew
	}
	if a.nonceTTL <= 0 {
		a.nonceTTL = constants.DefaultNonceTTL
	}
	if a.timeout <= 0 {
		a.timeout = constants.DefaultAuthTimeout
	}
	return a
}

// Authenticate checks, in order: credential fields, peer secret, timestamp skew,
// signature, and finally consumes the nonce. The timestamp is checked before the
// signature so a stale request is rejected as stale whatever its signature.
func (a *Authenticator) Authenticate(ctx context.Context, cred Credential, body []byte) (Result, error) {
	start := time.Now()
	ctx, span := tracing.GetTracer(constants.ServiceName).Start(ctx, "auth.authenticate")
	defer span.End()

	peerID := a.peers.Resolve(cred.PeerID)
	result, err := a.authenticate(ctx, peerID, cred, body)

	outcome := "ok"
	if err != nil {
		outcome = errorCode(err)
		span.RecordError(err)
		a.logRejection(ctx, peerID, cred, outcome, err)
	}
	metrics.ObserveAuth(a.peerLabel(peerID), outcome, time.Since(start))

	return result, err
}

func (a *Authenticator) authenticate(ctx context.Context, peerID string, cred Credential, body []byte) (Result, error) {
	if cred.Signature == "" || cred.Nonce == "" || cred.Timestamp <= 0 {
		return Result{}, apperrors.ErrMissingCredentials
	}

	if peerID == "" {
		return Result{}, apperrors.ErrMissingCredentials.WithDetail("reason", "peer id is required")
	}

	secret, ok := a.peers.Secret(peerID)
	if !ok {
		return Result{}, apperrors.ErrPeerNotConfigured.WithDetail("peer_id", peerID)
	}

	skew := a.now().Sub(time.UnixMilli(cred.Timestamp))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return Result{}, apperrors.ErrStaleTimestamp.WithDetail("skew_ms", skew.Milliseconds())
	}

	if !verifySignature(secret, cred, body) {
		return Result{}, apperrors.ErrInvalidSignature
	}

	nonceCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	fresh, err := a.nonces.Consume(nonceCtx, peerID, cred.Nonce, a.nonceTTL)
	if err != nil {
		return Result{}, apperrors.ErrStore.WithCause(err).WithDetail("component", "nonce_store")
	}
	if !fresh {
		return Result{}, apperrors.ErrNonceReplayed
	}

	return Result{PeerID: peerID}, nil
}

func (a *Authenticator) logRejection(ctx context.Context, peerID string, cred Credential, outcome string, err error) {
	fields := []interface{}{
		"peer_id", peerID,
		"reason", outcome,
		"nonce", cred.Nonce,
		"timestamp_ms", cred.Timestamp,
		"signature_prefix", signaturePrefix(cred.Signature),
	}
	if cred.Timestamp > 0 {
		fields = append(fields, "skew_ms", a.now().Sub(time.UnixMilli(cred.Timestamp)).Milliseconds())
	}

	if outcome == apperrors.ErrStore.Code || outcome == apperrors.ErrPeerNotConfigured.Code {
		a.logger.ErrorwCtx(ctx, "Authentication failed closed", append(fields, "error", err)...)
		return
	}
	a.logger.WarnwCtx(ctx, "Authentication rejected", fields...)
}

// NonceMode reports whether replay protection is shared or local to this process.
func (a *Authenticator) NonceMode() string {
	return a.nonces.Mode()
}

func errorCode(err error) string {
	var appErr *apperrors.Error
	if apperrors.As(err, &appErr) {
		return appErr.Code
	}
	return apperrors.ErrInternal.Code
}

// peerLabel keeps metric cardinality bounded to configured peers.
func (a *Authenticator) peerLabel(peerID string) string {
	if !a.peers.Has(peerID) {
		return "unconfigured"
	}
	return peerID
}
