// Package statscache caches queue statistics snapshots so the stats
// endpoint and health probes do not hit PostgreSQL on every call.
package statscache

import (
	"context"
	"time"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

// DefaultTTL bounds how stale a served snapshot can be.
const DefaultTTL = 30 * time.Second

// Cache is a best-effort snapshot store. Get reports a miss instead of
// an error; a broken cache must never take down the stats path.
type Cache interface {
	Get(ctx context.Context) (domain.QueueStats, bool)
	Set(ctx context.Context, s domain.QueueStats)
}
