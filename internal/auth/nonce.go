package auth

import (
	"context"
	"time"

	"intake/internal/constants"
	"intake/internal/keystore"
)

// NonceStore records consumed nonces. Consume is atomic per (peer, nonce).
type NonceStore struct {
	store keystore.Store
}

func NewNonceStore(store keystore.Store) *NonceStore {
	return &NonceStore{store: store}
}

// Consume marks the nonce used and reports whether this call was the first to do so.
func (n *NonceStore) Consume(ctx context.Context, peerID, nonce string, ttl time.Duration) (bool, error) {
	return n.store.SetNX(ctx, nonceKey(peerID, nonce), ttl)
}

func (n *NonceStore) Mode() string {
	return n.store.Mode()
}

func nonceKey(peerID, nonce string) string {
	return constants.KeyPrefixNonce + peerID + ":" + nonce
}
