// Command worker runs the inference dispatcher: it drains the request
// queue one claim at a time behind the GPU permit and writes results
// back through the side-effect pipeline.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	ai "github.com/fairyhunter13/ai-inference-broker/internal/adapter/ai"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/ai/ollama"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/audit"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/statscache"
	"github.com/fairyhunter13/ai-inference-broker/internal/app"
	"github.com/fairyhunter13/ai-inference-broker/internal/config"
	"github.com/fairyhunter13/ai-inference-broker/internal/domain"
	"github.com/fairyhunter13/ai-inference-broker/internal/service/gpu"
	"github.com/fairyhunter13/ai-inference-broker/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register Prometheus metrics in the worker process and expose them
	// on a dedicated /metrics endpoint for scraping.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema bootstrap failed", slog.Any("error", err))
		os.Exit(1)
	}

	queueRepo := postgres.NewQueueRepo(pool)
	sideRepo := postgres.NewSideEffectRepo(pool)

	// Compliance audit trail, mirrored to Kafka when configured.
	var sink domain.AuditSink = audit.NewLogSink(logger)
	var closeSink func()
	if cfg.AuditStreamEnabled() {
		ks, err := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic, cfg.RetentionDays)
		if err != nil {
			slog.Error("audit kafka sink init failed, log sink only", slog.Any("error", err))
		} else {
			sink = audit.NewTee(sink, ks)
			closeSink = ks.Close
		}
	}

	// Stats cache: writing through Redis keeps the API's cached stats
	// fresh while the worker completes requests.
	var cache statscache.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		cache = statscache.NewRedis(redis.NewClient(opts), statscache.DefaultTTL)
	} else {
		cache = statscache.NewMemory(statscache.DefaultTTL)
	}

	// Inference backend and prompt templates
	var backend ai.Backend
	if cfg.IsTest() {
		backend = stub.New()
	} else {
		backend = ollama.New(cfg.BackendBaseURL, cfg.BackendAPIKey, cfg.BackendTimeout)
	}
	templates := ai.DefaultTemplates()
	if cfg.PromptsFile != "" {
		templates, err = ai.LoadTemplates(cfg.PromptsFile)
		if err != nil {
			slog.Error("prompt templates load failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	agent := ai.NewChatAgent(backend, templates, cfg.ChatModel, cfg.BackendTimeout)

	arbiter := gpu.NewArbiter(cfg.GPUTimeout, sink)

	brokerSvc := usecase.NewQueueService(queueRepo, cache, sink)
	writer := usecase.NewSideEffectWriter(sideRepo, sink)
	dispatcher := app.NewDispatcher(cfg, brokerSvc, writer, arbiter, agent)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Stuck-processing rows are observed and reported, never auto-reset.
	observer := app.NewStuckRequestObserver(brokerSvc, cfg.StuckProcessingAge, time.Minute)
	go observer.Run(runCtx)

	// The worker owns the retention sweep; the server also runs one, and
	// the purge is idempotent so the overlap is harmless.
	cleanupSvc := postgres.NewCleanupService(queueRepo, cfg.RetentionDays)
	cleanupSvc.Audit = sink
	go cleanupSvc.RunPeriodic(runCtx, cfg.CleanupInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- dispatcher.Run(runCtx) }()

	slog.Info("worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	exitCode := 0
	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
		cancelRun()
		select {
		case err := <-errCh:
			if err != nil {
				slog.Error("dispatcher exited with error", slog.Any("error", err))
				exitCode = 1
			}
		case <-time.After(cfg.GracefulShutdownTimeout):
			slog.Warn("graceful shutdown window elapsed with a request still in flight")
		}
	case err := <-errCh:
		cancelRun()
		if err != nil {
			// A tripped cycle breaker means the environment is broken;
			// exit non-zero so the supervisor restarts the process.
			slog.Error("dispatcher failed", slog.Any("error", err))
			exitCode = 1
		}
	}

	arbiter.Close()
	if closeSink != nil {
		closeSink()
	}
	pool.Close()
	if shutdownTracer != nil {
		_ = shutdownTracer(context.Background())
	}
	slog.Info("worker stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
