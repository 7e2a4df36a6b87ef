package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"palette/internal/bootstrap"
	"palette/internal/http/handlers"
	httpapi "palette/internal/http/httpapi"
	"palette/internal/infra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx := context.Background()
	svc, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize services")
	}
	defer svc.Close()

	app := &handlers.App{
		Repo:       svc.Ledger,
		Submitter:  svc.Submitter,
		Reconciler: svc.Reconciler,
		Poller:     svc.Poller,
		Verifier:   svc.Verifier,
		Store:      svc.Store,
		Logger:     infra.Component(logger, "http"),

		LedgerDriver:  cfg.LedgerDriver,
		StorageDriver: cfg.StorageDriver,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		StaticDir:       svc.StaticDir,
		Logger:          infra.Component(logger, "access"),
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("ledger", cfg.LedgerDriver).
			Str("storage", cfg.StorageDriver).
			Str("webhook_url", cfg.WebhookURL()).
			Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
