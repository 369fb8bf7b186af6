package statscache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

const statsKey = "broker:queue:stats"

// Redis caches the snapshot in Redis so all API replicas serve the
// same view. Errors degrade to a miss; Redis being down only costs an
// extra COUNT query.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a Redis-backed cache with the given TTL.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// Ping reports whether the cache backend is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context) (domain.QueueStats, bool) {
	b, err := r.rdb.Get(ctx, statsKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("stats cache read failed", slog.Any("error", err))
		}
		return domain.QueueStats{}, false
	}
	var s domain.QueueStats
	if err := json.Unmarshal(b, &s); err != nil {
		slog.Warn("stats cache payload corrupt", slog.Any("error", err))
		return domain.QueueStats{}, false
	}
	return s, true
}

func (r *Redis) Set(ctx context.Context, s domain.QueueStats) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, statsKey, b, r.ttl).Err(); err != nil {
		slog.Warn("stats cache write failed", slog.Any("error", err))
	}
}
