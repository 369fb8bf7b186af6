//go:build integration

// These tests run the queue repository and stats cache against real
// containers. Opt in with -tags=integration and a working Docker
// daemon; everything here is covered by stubs in the unit suites.

package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/statscache"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
)

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		Env:          map[string]string{"POSTGRES_PASSWORD": "postgres", "POSTGRES_USER": "postgres", "POSTGRES_DB": "broker"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithStartupTimeout(90 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return "postgres://postgres:postgres@" + host + ":" + port.Port() + "/broker?sslmode=disable"
}

func chatRow(id string, priority int) domain.Request {
	return domain.Request{
		ID:       id,
		Type:     domain.RequestChat,
		Priority: priority,
		UserID:   "test-user-123",
		Payload: domain.ChatRequestPayload{
			MessageID:   "msg-" + id,
			ThreadID:    "thread-1",
			CustomGPTID: "demo-gpt-general",
			UserMessage: "hello",
		},
	}
}

// Eight claimers drain a 40-row queue; SKIP LOCKED must hand every row
// to exactly one of them.
func Test_QueueClaims_NeverOverlap(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t, ctx)

	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.Eventually(t, func() bool { return pool.Ping(ctx) == nil }, 30*time.Second, time.Second)
	require.NoError(t, postgres.EnsureSchema(ctx, pool))

	repo := postgres.NewQueueRepo(pool)

	// A newer urgent row outranks an older default-priority row.
	require.NoError(t, repo.Insert(ctx, chatRow("warm-default", 5)))
	require.NoError(t, repo.Insert(ctx, chatRow("warm-urgent", 1)))
	first, ok, err := repo.ClaimOne(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "warm-urgent", first.ID)
	second, ok, err := repo.ClaimOne(ctx, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "warm-default", second.ID)
	for _, id := range []string{first.ID, second.ID} {
		transitioned, err := repo.Complete(ctx, id, domain.RequestOutcome{Success: true, Content: "warmup"}, time.Now())
		require.NoError(t, err)
		require.True(t, transitioned)
	}

	const rows = 40
	for i := 0; i < rows; i++ {
		require.NoError(t, repo.Insert(ctx, chatRow(fmt.Sprintf("req-%02d", i), 1+i%10)))
	}

	var (
		mu      sync.Mutex
		claimed = map[string]int{}
		wg      sync.WaitGroup
	)
	errs := make(chan error, 16)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				req, ok, err := repo.ClaimOne(ctx, time.Now())
				if err != nil {
					errs <- err
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				claimed[req.ID]++
				mu.Unlock()
				transitioned, err := repo.Complete(ctx, req.ID, domain.RequestOutcome{Success: true, Content: "done"}, time.Now())
				if err != nil {
					errs <- err
					return
				}
				if !transitioned {
					errs <- fmt.Errorf("row %s was not in processing at complete", req.ID)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("claimer: %v", err)
	}

	require.Len(t, claimed, rows)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "row %s claimed %d times", id, n)
	}

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(rows+2), stats.Total)
	assert.Equal(t, int64(rows+2), stats.Completed)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Processing)

	// Terminal rows ignore replayed completions and operator resets.
	transitioned, err := repo.Complete(ctx, "req-00", domain.RequestOutcome{Success: false, ErrorMessage: "late"}, time.Now())
	require.NoError(t, err)
	assert.False(t, transitioned)
	ok, err = repo.ResetToPending(ctx, "req-00")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.Get(ctx, "no-such-row")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func Test_StatsCache_RedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	require.Eventually(t, func() bool { return rdb.Ping(ctx).Err() == nil }, 30*time.Second, time.Second)

	cache := statscache.NewRedis(rdb, 0)
	_, hit := cache.Get(ctx)
	assert.False(t, hit, "empty cache must miss")

	want := domain.QueueStats{Total: 7, Pending: 2, Processing: 1, Completed: 3, Failed: 1}
	cache.Set(ctx, want)
	got, hit := cache.Get(ctx)
	require.True(t, hit)
	assert.Equal(t, want, got)
}
