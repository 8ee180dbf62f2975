// Package peers tracks which authenticated peers have registered and whether they are
// still sending heartbeats. It does not issue credentials.
package peers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"intake/internal/constants"
	apperrors "intake/pkg/errors"
)

const (
	LivenessOnline = "online"
	LivenessStale  = "stale"
)

type Registration struct {
	AgentID      string   `json:"agent_id"`
	AgentName    string   `json:"agent_name"`
	BaseURL      string   `json:"base_url"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type Peer struct {
	Registration
	Status        string    `json:"status"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Liveness      string    `json:"liveness"`
}

type Registry struct {
	mu       sync.RWMutex
	peers    map[string]*Peer
	interval time.Duration
	now      func() time.Time
}

func NewRegistry(heartbeatInterval time.Duration) *Registry {
	if heartbeatInterval <= 0 {
		heartbeatInterval = constants.DefaultHeartbeatInterval
	}
	return &Registry{
		peers:    make(map[string]*Peer),
		interval: heartbeatInterval,
		now:      time.Now,
	}
}

func (r *Registry) HeartbeatInterval() time.Duration {
	return r.interval
}

// Register records or refreshes a peer. Re-registering keeps the original registration time.
func (r *Registry) Register(ctx context.Context, reg Registration) (Peer, error) {
	id := strings.ToLower(strings.TrimSpace(reg.AgentID))
	if id == "" {
		return Peer{}, apperrors.ErrValidation.WithDetail("message", "agent_id is required")
	}
	reg.AgentID = id
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		p = &Peer{RegisteredAt: now}
		r.peers[id] = p
	}
	p.Registration = reg
	p.Status = "registered"
	p.LastHeartbeat = now

	return r.view(p, now), nil
}

// Heartbeat refreshes liveness and returns when the next heartbeat is due.
func (r *Registry) Heartbeat(ctx context.Context, agentID, status string) (time.Duration, error) {
	id := strings.ToLower(strings.TrimSpace(agentID))
	now := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return 0, apperrors.ErrNotFound.WithDetail("message", "peer is not registered").WithDetail("agent_id", id)
	}
	p.LastHeartbeat = now
	if status != "" {
		p.Status = status
	}
	return r.interval, nil
}

func (r *Registry) Get(ctx context.Context, agentID string) (Peer, error) {
	id := strings.ToLower(strings.TrimSpace(agentID))

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[id]
	if !ok {
		return Peer{}, apperrors.ErrNotFound.WithDetail("agent_id", id)
	}
	return r.view(p, r.now().UTC()), nil
}

func (r *Registry) List(ctx context.Context) []Peer {
	now := r.now().UTC()

	r.mu.RLock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, r.view(p, now))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// view copies p and derives liveness. A peer is stale after missing a few heartbeats.
func (r *Registry) view(p *Peer, now time.Time) Peer {
	v := *p
	v.Capabilities = append([]string(nil), p.Capabilities...)
	v.Liveness = LivenessOnline
	if now.Sub(p.LastHeartbeat) > time.Duration(constants.PeerStaleAfterIntervals)*r.interval {
		v.Liveness = LivenessStale
	}
	return v
}
