// Package registry implements resolution of a role name (e.g.
// "researcher", "writer") to the webhook URL that serves it, backing
// both the delegation router and the /api/agents/status and
// /api/registry HTTP surfaces.
//
// A statically configured routing table is the source of truth; when
// Redis is available, namespaced TTL'd heartbeat keys refresh liveness
// so status reflects which remote webhooks are actually reachable.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alphabridge/runtime/internal/corelog"
)

// AgentInfo describes one routable role.
type AgentInfo struct {
	Role        string    `json:"role"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	Healthy     bool      `json:"healthy"`
}

const namespace = "bridge:registry"

// Registry resolves roles to agent endpoints. A static config-file map is
// the source of truth; when Redis is configured, heartbeats refresh the
// Healthy/LastSeen fields so /api/agents/status reflects live state.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]AgentInfo

	redis  *redis.Client
	logger corelog.Logger
}

// New builds a Registry seeded from a static role->URL map, where each
// role name resolves to exactly one webhook URL. redisClient may be
// nil, in which case heartbeats are skipped and Healthy always reflects
// the last explicit SetHealth call.
func New(staticRoles map[string]string, redisClient *redis.Client, logger corelog.Logger) *Registry {
	if logger == nil {
		logger = corelog.NoOpLogger{}
	}
	agents := make(map[string]AgentInfo, len(staticRoles))
	for role, url := range staticRoles {
		agents[role] = AgentInfo{Role: role, URL: url, Healthy: true}
	}
	return &Registry{agents: agents, redis: redisClient, logger: logger}
}

// Resolve returns the URL registered for role, or an UnknownAgent error
// — an unresolvable role ends delegation with a SYSTEM_ERROR
// observation.
func (r *Registry) Resolve(role string) (AgentInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[role]
	if !ok {
		return AgentInfo{}, fmt.Errorf("role %q: %w", role, corelog.ErrUnknownAgent)
	}
	return info, nil
}

// All returns every known agent, for /api/registry and /api/agents/status.
func (r *Registry) All() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		out = append(out, info)
	}
	return out
}

// SetHealth updates a role's liveness, as observed by a caller (e.g. the
// supervisor loop's health-check pass).
func (r *Registry) SetHealth(role string, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.agents[role]
	if !ok {
		return
	}
	info.Healthy = healthy
	info.LastSeen = time.Now().UTC()
	r.agents[role] = info
}

// Heartbeat publishes this agent's liveness to Redis under a namespaced,
// TTL'd key.
func (r *Registry) Heartbeat(ctx context.Context, role string, ttl time.Duration) error {
	if r.redis == nil {
		return nil
	}
	r.mu.RLock()
	info, ok := r.agents[role]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("role %q: %w", role, corelog.ErrUnknownAgent)
	}
	info.LastSeen = time.Now().UTC()
	info.Healthy = true

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}
	key := fmt.Sprintf("%s:%s", namespace, role)
	if err := r.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		r.logger.Warn("registry heartbeat write failed", map[string]interface{}{"role": role, "error": err.Error()})
		return fmt.Errorf("writing heartbeat to redis: %w", err)
	}

	r.mu.Lock()
	r.agents[role] = info
	r.mu.Unlock()
	return nil
}

// RefreshFromRedis reconciles local Healthy/LastSeen state against
// whatever heartbeats are currently present in Redis, marking agents
// whose heartbeat key has expired as unhealthy.
func (r *Registry) RefreshFromRedis(ctx context.Context) error {
	if r.redis == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for role, info := range r.agents {
		key := fmt.Sprintf("%s:%s", namespace, role)
		exists, err := r.redis.Exists(ctx, key).Result()
		if err != nil {
			r.logger.Warn("registry refresh failed", map[string]interface{}{"role": role, "error": err.Error()})
			continue
		}
		info.Healthy = exists > 0
		r.agents[role] = info
	}
	return nil
}
