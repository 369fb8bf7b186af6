// Command server starts the AI inference broker HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/ai/ollama"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/audit"
	httpserver "github.com/fairyhunter13/ai-inference-broker/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/statscache"
	"github.com/fairyhunter13/ai-inference-broker/internal/app"
	"github.com/fairyhunter13/ai-inference-broker/internal/config"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
	"github.com/fairyhunter13/ai-inference-broker/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics
	// exposes HTTP, queue, and inference instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool and schema
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	queueRepo := postgres.NewQueueRepo(pool)

	// Compliance audit trail: structured log always, Kafka mirror when
	// brokers are configured.
	var sink domain.AuditSink = audit.NewLogSink(logger)
	if cfg.AuditStreamEnabled() {
		ks, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic, cfg.RetentionDays)
		if err != nil {
			slog.Error("audit kafka sink init failed, log sink only", slog.Any("error", err))
		} else {
			defer ks.Close()
			sink = audit.NewTee(sink, ks)
		}
	}

	// Stats cache: shared Redis when configured, in-process otherwise.
	var cache statscache.Cache
	var cachePing app.Pinger
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rc := statscache.NewRedis(redis.NewClient(opts), statscache.DefaultTTL)
		cache, cachePing = rc, rc
	} else {
		cache = statscache.NewMemory(statscache.DefaultTTL)
	}

	// Retention sweep for terminal rows
	cleanupSvc := postgres.NewCleanupService(queueRepo, cfg.RetentionDays)
	cleanupSvc.Audit = sink
	go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
	slog.Info("retention sweeper started",
		slog.Int("retention_days", cfg.RetentionDays),
		slog.Duration("interval", cfg.CleanupInterval))

	// Inference backend, probed by readiness only; the worker process
	// owns actual inference.
	var backend app.ModelLister
	if cfg.IsTest() {
		backend = stub.New()
	} else {
		backend = ollama.New(cfg.BackendBaseURL, cfg.BackendAPIKey, cfg.BackendTimeout)
	}

	// Usecases
	intakeSvc := usecase.NewIntakeService(queueRepo, sink)
	brokerSvc := usecase.NewQueueService(queueRepo, cache, sink)

	// Readiness checks
	dbCheck, cacheCheck, backendCheck := app.BuildReadinessChecks(pool, cachePing, backend)

	// HTTP server; the GPU arbiter lives in the worker process, so the
	// stats endpoint here reports queue and health only.
	srv := httpserver.NewServer(cfg, intakeSvc, brokerSvc, nil, dbCheck, cacheCheck, backendCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
