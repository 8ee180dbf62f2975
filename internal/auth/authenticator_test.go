package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/config"
	"intake/internal/constants"
	"intake/internal/keystore"
	"intake/internal/logger"
	apperrors "intake/pkg/errors"
)

const testSecret = "topsecret"

func newTestAuthenticator(t *testing.T, now time.Time) *Authenticator {
	t.Helper()
	store := keystore.NewMemoryStore(time.Hour)
	t.Cleanup(store.Close)

	peers := NewPeerCredentials(map[string]string{"mailer": testSecret, "empty": ""}, "mailer")
	a := NewAuthenticator(peers, NewNonceStore(store), config.AuthConfig{
		MaxSkew:  5 * time.Minute,
		NonceTTL: 10 * time.Minute,
		Timeout:  time.Second,
	}, logger.NopLogger())
	a.now = func() time.Time { return now }
	return a
}

func signed(secret string, ts time.Time, nonce string, body []byte) Credential {
	ms := ts.UnixMilli()
	return Credential{Signature: Sign(secret, ms, nonce, body), Timestamp: ms, Nonce: nonce}
}

func TestAuthenticateSuccessThenReplay(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(t, now)
	body := []byte(`{"eventId":"e1"}`)

	res, err := a.Authenticate(context.Background(), signed(testSecret, now, "n-1", body), body)
	require.NoError(t, err)
	assert.Equal(t, "mailer", res.PeerID)

	// Same nonce with a fresh, otherwise valid signature is still a replay.
	later := now.Add(time.Second)
	a.now = func() time.Time { return later }
	_, err = a.Authenticate(context.Background(), signed(testSecret, later, "n-1", body), body)
	assert.ErrorIs(t, err, apperrors.ErrNonceReplayed)
}

func TestAuthenticateStaleTimestampRegardlessOfSignature(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(t, now)
	body := []byte(`{}`)
	old := now.Add(-6 * time.Minute)

	_, err := a.Authenticate(context.Background(), signed(testSecret, old, "n-valid", body), body)
	assert.ErrorIs(t, err, apperrors.ErrStaleTimestamp)

	bad := Credential{Signature: "deadbeef", Timestamp: old.UnixMilli(), Nonce: "n-bad"}
	_, err = a.Authenticate(context.Background(), bad, body)
	assert.ErrorIs(t, err, apperrors.ErrStaleTimestamp)

	future := now.Add(6 * time.Minute)
	_, err = a.Authenticate(context.Background(), signed(testSecret, future, "n-future", body), body)
	assert.ErrorIs(t, err, apperrors.ErrStaleTimestamp)
}

func TestAuthenticateInvalidSignature(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(t, now)
	body := []byte(`{"eventId":"e1"}`)

	tests := []struct {
		name string
		cred Credential
	}{
		{"wrong secret", signed("other", now, "n-a", body)},
		{"tampered body", signed(testSecret, now, "n-b", []byte(`{"eventId":"e2"}`))},
		{"not hex", Credential{Signature: "zz", Timestamp: now.UnixMilli(), Nonce: "n-c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), tt.cred, body)
			assert.ErrorIs(t, err, apperrors.ErrInvalidSignature)
		})
	}
}

func TestInvalidSignatureDoesNotBurnNonce(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(t, now)
	body := []byte(`{}`)

	_, err := a.Authenticate(context.Background(), signed("wrong", now, "n-keep", body), body)
	require.ErrorIs(t, err, apperrors.ErrInvalidSignature)

	_, err = a.Authenticate(context.Background(), signed(testSecret, now, "n-keep", body), body)
	assert.NoError(t, err)
}

func TestAuthenticateMissingFields(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(t, now)

	_, err := a.Authenticate(context.Background(), Credential{Timestamp: now.UnixMilli(), Nonce: "n"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrMissingCredentials)

	_, err = a.Authenticate(context.Background(), Credential{Signature: "ab", Timestamp: now.UnixMilli()}, nil)
	assert.ErrorIs(t, err, apperrors.ErrMissingCredentials)
}

func TestAuthenticateUnconfiguredPeerFailsClosed(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(t, now)
	body := []byte(`{}`)

	for _, peer := range []string{"ghost", "empty"} {
		cred := signed(testSecret, now, "n-"+peer, body)
		cred.PeerID = peer
		_, err := a.Authenticate(context.Background(), cred, body)
		assert.ErrorIs(t, err, apperrors.ErrPeerNotConfigured)
		assert.Equal(t, 503, apperrors.ToHTTPStatus(err))
	}
}

func TestNoncesAreScopedPerPeer(t *testing.T) {
	now := time.Now()
	store := keystore.NewMemoryStore(time.Hour)
	defer store.Close()
	peers := NewPeerCredentials(map[string]string{"a": "sa", "b": "sb"}, "")
	a := NewAuthenticator(peers, NewNonceStore(store), config.AuthConfig{MaxSkew: 5 * time.Minute, NonceTTL: 10 * time.Minute}, logger.NopLogger())
	a.now = func() time.Time { return now }

	body := []byte(`{}`)
	credA := signed("sa", now, "shared-nonce", body)
	credA.PeerID = "a"
	credB := signed("sb", now, "shared-nonce", body)
	credB.PeerID = "b"

	_, err := a.Authenticate(context.Background(), credA, body)
	require.NoError(t, err)
	_, err = a.Authenticate(context.Background(), credB, body)
	assert.NoError(t, err)
}

type erroringStore struct{}

func (erroringStore) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, errors.New("i/o timeout")
}
func (erroringStore) Delete(ctx context.Context, key string) error { return nil }
func (erroringStore) Mode() string                                 { return constants.ModeShared }

func TestNonceStoreErrorFailsClosed(t *testing.T) {
	now := time.Now()
	peers := NewPeerCredentials(map[string]string{"mailer": testSecret}, "mailer")
	a := NewAuthenticator(peers, NewNonceStore(erroringStore{}), config.AuthConfig{}, logger.NopLogger())
	a.now = func() time.Time { return now }
	body := []byte(`{}`)

	_, err := a.Authenticate(context.Background(), signed(testSecret, now, "n", body), body)
	assert.ErrorIs(t, err, apperrors.ErrStore)
	assert.Equal(t, 503, apperrors.ToHTTPStatus(err))
	assert.Equal(t, constants.ModeShared, a.NonceMode())
}

func TestConcurrentSameNonceSucceedsOnce(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(t, now)
	body := []byte(`{"eventId":"e"}`)
	cred := signed(testSecret, now, "n-race", body)

	var ok int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Authenticate(context.Background(), cred, body); err == nil {
				atomic.AddInt64(&ok, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), ok)
}

func TestManyDistinctNoncesAllSucceed(t *testing.T) {
	now := time.Now()
	a := newTestAuthenticator(t, now)
	body := []byte(`{}`)

	for i := 0; i < 50; i++ {
		_, err := a.Authenticate(context.Background(), signed(testSecret, now, fmt.Sprintf("n-%d", i), body), body)
		require.NoError(t, err)
	}
}
