package auth

import (
	"sort"
	"strings"
	"sync"
)

// PeerCredentials is the set of shared secrets the authenticator trusts. Secrets are
// provisioned from configuration and never logged.
type PeerCredentials struct {
	mu          sync.RWMutex
	secrets     map[string]string
	defaultPeer string
}

func NewPeerCredentials(secrets map[string]string, defaultPeer string) *PeerCredentials {
	p := &PeerCredentials{
		secrets:     make(map[string]string, len(secrets)),
		defaultPeer: strings.ToLower(defaultPeer),
	}
	for id, secret := range secrets {
		p.secrets[strings.ToLower(id)] = secret
	}
	return p
}

// Resolve picks the peer id for a request, falling back to the default peer.
func (p *PeerCredentials) Resolve(peerID string) string {
	if peerID != "" {
		return strings.ToLower(peerID)
	}
	return p.defaultPeer
}

// Secret returns the secret for peerID. An empty secret counts as unconfigured.
func (p *PeerCredentials) Secret(peerID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	secret, ok := p.secrets[strings.ToLower(peerID)]
	if !ok || secret == "" {
		return "", false
	}
	return secret, true
}

// Has reports whether peerID has a usable secret.
func (p *PeerCredentials) Has(peerID string) bool {
	_, ok := p.Secret(peerID)
	return ok
}

// Replace swaps in a new credential set and reports which peers were added, changed
// or revoked. Ids are lower-cased.
func (p *PeerCredentials) Replace(secrets map[string]string) (added, changed, revoked []string) {
	next := make(map[string]string, len(secrets))
	for id, secret := range secrets {
		next[strings.ToLower(id)] = secret
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for id, secret := range next {
		old, ok := p.secrets[id]
		switch {
		case !ok:
			added = append(added, id)
		case old != secret:
			changed = append(changed, id)
		}
	}
	for id := range p.secrets {
		if _, ok := next[id]; !ok {
			revoked = append(revoked, id)
		}
	}
	p.secrets = next

	sort.Strings(added)
	sort.Strings(changed)
	sort.Strings(revoked)
	return added, changed, revoked
}

func (p *PeerCredentials) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.secrets)
}
