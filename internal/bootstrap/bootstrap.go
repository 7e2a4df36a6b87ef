// Package bootstrap assembles the ledger, storage, provider and
// reconciliation components shared by the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"palette/internal/adapter/repo"
	"palette/internal/catalog"
	"palette/internal/domain"
	"palette/internal/infra"
	"palette/internal/infra/geoip"
	"palette/internal/materializer"
	"palette/internal/providers/replicate"
	"palette/internal/reconcile"
	"palette/internal/storage"
	"palette/internal/submit"
	"palette/internal/webhook"
)

type Services struct {
	Config     *infra.Config
	Ledger     domain.GenerationRepository
	Store      storage.ObjectStore
	Catalog    *catalog.Catalog
	Replicate  *replicate.Client
	Secrets    *webhook.SecretCache
	Verifier   *webhook.Verifier
	Reconciler *reconcile.Reconciler
	Poller     *reconcile.Poller
	Submitter  *submit.Submitter
	// StaticDir is set when objects live on the local filesystem.
	StaticDir string

	closers []func() error
}

// New wires every component from cfg. Close releases what it opened.
func New(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Services, error) {
	s := &Services{Config: cfg}
	if err := s.init(ctx, cfg, logger); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) init(ctx context.Context, cfg *infra.Config, logger infra.Logger) error {
	ledger, err := s.openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	s.Ledger = ledger

	if err := s.openStore(ctx, cfg); err != nil {
		return err
	}

	models, err := catalog.Load(cfg.ModelCatalogPath)
	if err != nil {
		return fmt.Errorf("load model catalog: %w", err)
	}
	s.Catalog = models

	providerLogger := infra.Component(logger, "replicate")
	client, err := replicate.NewClient(replicate.Options{
		APIToken:       cfg.ReplicateAPIToken,
		BaseURL:        cfg.ReplicateBaseURL,
		Logger:         &providerLogger,
		RequestTimeout: cfg.ProviderTimeout,
	})
	if err != nil {
		return fmt.Errorf("configure replicate client: %w", err)
	}
	s.Replicate = client

	s.Secrets = webhook.NewSecretCache(client)
	if cfg.WebhookSecret != "" {
		if err := s.Secrets.Seed(cfg.WebhookSecret); err != nil {
			return fmt.Errorf("REPLICATE_WEBHOOK_SECRET: %w", err)
		}
	}
	s.Verifier = webhook.NewVerifier(s.Secrets)

	geo, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("bootstrap: geoip disabled")
	}
	if closer, ok := geo.(interface{ Close() error }); ok {
		s.closers = append(s.closers, closer.Close)
	}

	assets := materializer.New(materializer.Options{
		Store:   s.Store,
		Timeout: cfg.DownloadTimeout,
		Logger:  infra.Component(logger, "materializer"),
	})
	s.Reconciler = reconcile.NewReconciler(s.Ledger, assets, infra.Component(logger, "reconciler"))
	s.Poller = reconcile.NewPoller(client, s.Reconciler, infra.Component(logger, "poller"))
	s.Submitter = submit.New(submit.Options{
		Catalog:    s.Catalog,
		Provider:   client,
		Repo:       s.Ledger,
		WebhookURL: cfg.WebhookURL(),
		Geo:        geo,
		Logger:     infra.Component(logger, "submitter"),
	})
	return nil
}

func (s *Services) openLedger(ctx context.Context, cfg *infra.Config, logger infra.Logger) (domain.GenerationRepository, error) {
	switch cfg.LedgerDriver {
	case infra.LedgerDriverSQLite:
		ledger, err := repo.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		s.closers = append(s.closers, ledger.Close)
		return ledger, nil
	case infra.LedgerDriverPostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		ledger := repo.NewGenerationRepository(infra.NewSQLRunner(pool, infra.Component(logger, "sql")))
		if err := ledger.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure ledger schema: %w", err)
		}
		return ledger, nil
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.LedgerDriver)
	}
}

func (s *Services) openStore(ctx context.Context, cfg *infra.Config) error {
	switch cfg.StorageDriver {
	case infra.StorageDriverS3:
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:          cfg.StorageBucket,
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PublicBaseURL:   cfg.S3PublicBaseURL,
		})
		if err != nil {
			return fmt.Errorf("configure s3 storage: %w", err)
		}
		s.Store = store
	default:
		path := cfg.StoragePath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		store, err := storage.NewFileStore(path, cfg.StorageBaseURL)
		if err != nil {
			return fmt.Errorf("configure file storage: %w", err)
		}
		s.Store = store
		s.StaticDir = store.BasePath()
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
