package statscache

import (
	"context"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// Memory is the in-process cache used when no Redis is configured.
// Single-host deployments lose nothing by it; the snapshot dies with
// the process.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	val     domain.QueueStats
	expires time.Time
}

// NewMemory creates a memory cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl}
}

func (m *Memory) Get(_ context.Context) (domain.QueueStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expires.IsZero() || time.Now().After(m.expires) {
		return domain.QueueStats{}, false
	}
	return m.val, true
}

func (m *Memory) Set(_ context.Context, s domain.QueueStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.val = s
	m.expires = time.Now().Add(m.ttl)
}
