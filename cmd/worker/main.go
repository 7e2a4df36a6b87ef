package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"palette/internal/bootstrap"
	"palette/internal/infra"
	"palette/internal/sweeper"
)

// The worker reconciles jobs whose webhook never arrived.
func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to initialize services")
	}
	defer svc.Close()

	sw := sweeper.New(svc.Ledger, svc.Poller, sweeper.Options{
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.SweepStaleAfter,
		Batch:      cfg.SweepBatch,
	}, infra.Component(logger, "sweeper"))

	if err := sw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: sweeper stopped")
	}
	logger.Info().Msg("worker stopped")
}
