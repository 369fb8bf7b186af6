// Command seed loads the demo dataset into Postgres: the mock advisor
// roster and one demo custom GPT per specialization. Safe to run
// repeatedly; existing rows are left alone.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-inference-broker/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-inference-broker/internal/config"
	"github.com/fairyhunter13/ai-inference-broker/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

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

	res, err := seed.Run(ctx, postgres.NewSideEffectRepo(pool))
	if err != nil {
		slog.Error("seeding failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("seeding complete",
		slog.Int("users_created", res.UsersCreated),
		slog.Int("users_existing", res.UsersExisted),
		slog.Int("gpts_created", res.GPTsCreated),
		slog.Int("gpts_existing", res.GPTsExisted))
}
