package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"nexvmeta/internal/infra"
	"nexvmeta/internal/metrics"
	"nexvmeta/internal/queue"
	"nexvmeta/internal/setup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("worker: DATABASE_URL is required")
	}
	pool, runner, err := setup.Database(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	creds := setup.Credentials(runner)

	uploader, err := setup.Storage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	orchestrator, err := setup.Orchestrator(ctx, cfg, &logger, creds, uploader)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure model provider")
	}

	repo := setup.QueueRepository(runner)
	queueRunner, err := queue.NewRunner(queue.RunnerOptions{
		Service:   queue.NewService(repo, &logger),
		Analyzer:  orchestrator,
		Uploader:  uploader,
		ItemDelay: cfg.QueueItemDelay,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure runner")
	}

	if err := queueRunner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
