// Package keystore provides atomic set-if-absent keys with a TTL, backed either by redis
// (shared across instances) or by process memory (local to one instance).
package keystore

import (
	"context"
	"time"
)

type Store interface {
	// SetNX stores key with ttl only if it is absent. It reports whether the key was stored.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Mode() string
}
