package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// ModelLister is the minimal inference backend surface for readiness:
// listing models proves the backend is reachable and serving.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// BuildReadinessChecks returns three readiness checks: db, stats cache,
// and inference backend. A nil cache or backend yields a nil check,
// which the readyz handler skips.
func BuildReadinessChecks(pool Pinger, cache Pinger, backend ModelLister) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil { return fmt.Errorf("db not configured") }
		return pool.Ping(ctx)
	}
	var cacheCheck func(ctx context.Context) error
	if cache != nil {
		cacheCheck = func(ctx context.Context) error { return cache.Ping(ctx) }
	}
	var backendCheck func(ctx context.Context) error
	if backend != nil {
		backendCheck = func(ctx context.Context) error {
			models, err := backend.Models(ctx)
			if err != nil { return fmt.Errorf("backend unreachable: %w", err) }
			if len(models) == 0 { return fmt.Errorf("backend has no models loaded") }
			return nil
		}
	}
	return dbCheck, cacheCheck, backendCheck
}
