package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/statscache"
)

type failPinger struct{ err error }

func (f failPinger) Ping(context.Context) error { return f.err }

type listerStub struct {
	models []string
	err    error
}

func (l listerStub) Models(context.Context) ([]string, error) { return l.models, l.err }

func TestBuildReadinessChecks_Database(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	dbCheck, _, _ := BuildReadinessChecks(nil, nil, nil)
	require.Error(t, dbCheck(ctx), "nil pool must not report ready")

	dbCheck, _, _ = BuildReadinessChecks(okPinger{}, nil, nil)
	require.NoError(t, dbCheck(ctx))

	dbCheck, _, _ = BuildReadinessChecks(failPinger{err: errors.New("connection refused")}, nil, nil)
	require.Error(t, dbCheck(ctx))
}

func TestBuildReadinessChecks_CacheSkippedWhenAbsent(t *testing.T) {
	t.Parallel()
	_, cacheCheck, _ := BuildReadinessChecks(okPinger{}, nil, nil)
	assert.Nil(t, cacheCheck)
}

func TestBuildReadinessChecks_CacheAgainstMiniredis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := statscache.NewRedis(rdb, time.Minute)

	_, cacheCheck, _ := BuildReadinessChecks(okPinger{}, cache, nil)
	require.NotNil(t, cacheCheck)
	require.NoError(t, cacheCheck(context.Background()))

	mr.Close()
	require.Error(t, cacheCheck(context.Background()))
}

func TestBuildReadinessChecks_Backend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, _, backendCheck := BuildReadinessChecks(okPinger{}, nil, nil)
	assert.Nil(t, backendCheck)

	_, _, backendCheck = BuildReadinessChecks(okPinger{}, nil, listerStub{models: []string{"gpt-oss"}})
	require.NoError(t, backendCheck(ctx))

	_, _, backendCheck = BuildReadinessChecks(okPinger{}, nil, listerStub{err: errors.New("dial tcp: refused")})
	require.Error(t, backendCheck(ctx))

	_, _, backendCheck = BuildReadinessChecks(okPinger{}, nil, listerStub{})
	require.Error(t, backendCheck(ctx), "empty model list must not report ready")
}
