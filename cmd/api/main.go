package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"nexvmeta/internal/http/handlers"
	httpapi "nexvmeta/internal/http/httpapi"
	"nexvmeta/internal/infra"
	"nexvmeta/internal/infra/geoip"
	"nexvmeta/internal/metrics"
	"nexvmeta/internal/middleware"
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

	pool, runner, err := setup.Database(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	if pool != nil {
		defer pool.Close()
	}
	creds := setup.Credentials(runner)

	uploader, err := setup.Storage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to configure storage")
	}

	orchestrator, err := setup.Orchestrator(ctx, cfg, &logger, creds, uploader)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.ModelProvider).Msg("failed to configure model provider")
	}

	repo := setup.QueueRepository(runner)
	queueSvc := queue.NewService(repo, &logger)
	hub := queue.NewHub(&logger, middleware.OriginAllowed(cfg.CORSAllowedOrigins))
	queueSvc.SetNotifier(hub)

	queueRunner, err := queue.NewRunner(queue.RunnerOptions{
		Service:   queueSvc,
		Analyzer:  orchestrator,
		Uploader:  uploader,
		ItemDelay: cfg.QueueItemDelay,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure queue runner")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer resolver.Close()

	app := &handlers.App{
		Config:   cfg,
		Logger:   &logger,
		Analyzer: orchestrator,
		Storage:  uploader,
		Queue:    queueSvc,
		Hub:      hub,
		RemoveBG: setup.RemoveBG(ctx, cfg, &logger, creds),
	}
	router := httpapi.NewRouter(app, resolver.Lookup())
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("provider", cfg.ModelProvider).
			Str("shape", cfg.AnalysisShape).
			Str("storage", cfg.StorageDriver).
			Msgf("API listening on :%s", cfg.Port)
		return server.Start()
	})
	g.Go(func() error {
		if err := queueRunner.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
