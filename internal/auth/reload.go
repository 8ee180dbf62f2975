package auth

import (
	"context"
	"os"

	"intake/internal/config"
	"intake/internal/logger"
)

// CredentialLoader returns the current auth configuration, usually by re-reading the
// config file and environment.
type CredentialLoader func() (config.AuthConfig, error)

// CredentialReloader swaps peer secrets in place so rotation needs no restart.
type CredentialReloader struct {
	credentials *PeerCredentials
	load        CredentialLoader
	logger      logger.Logger
}

func NewCredentialReloader(credentials *PeerCredentials, load CredentialLoader, log logger.Logger) *CredentialReloader {
	return &CredentialReloader{credentials: credentials, load: load, logger: log}
}

// Reload applies the loaded credentials. A load failure keeps the current set.
func (r *CredentialReloader) Reload(ctx context.Context) error {
	cfg, err := r.load()
	if err != nil {
		r.logger.ErrorwCtx(ctx, "Failed to load credentials, keeping current set", "error", err)
		return err
	}

	added, changed, revoked := r.credentials.Replace(cfg.PeerSecrets())
	r.logger.InfowCtx(ctx, "Peer credentials reloaded",
		"peers", r.credentials.Count(),
		"added", added,
		"rotated", changed,
		"revoked", revoked,
	)
	return nil
}

// Watch reloads on every signal until ctx is done.
func (r *CredentialReloader) Watch(ctx context.Context, signals <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			r.logger.InfowCtx(ctx, "Reloading peer credentials", "signal", sig.String())
			r.Reload(ctx)
		}
	}
}
