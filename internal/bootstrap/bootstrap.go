// Package bootstrap assembles the service graph shared by the api and worker
// binaries.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"mediarecon/internal/adapter/repo"
	"mediarecon/internal/domain"
	"mediarecon/internal/generation"
	"mediarecon/internal/http/handlers"
	httpapi "mediarecon/internal/http/httpapi"
	"mediarecon/internal/infra"
	"mediarecon/internal/infra/credentials"
	"mediarecon/internal/migration"
	"mediarecon/internal/providers/jobstatus"
	"mediarecon/internal/reconcile"
	"mediarecon/internal/recovery"
	"mediarecon/internal/resilience"
	"mediarecon/internal/storage"
)

// Services holds the wired components of one process.
type Services struct {
	Config      *infra.Config
	Logger      *infra.Logger
	Repo        *repo.ResilientGenerationRepository
	Jobs        *jobstatus.Client
	Store       storage.Store
	Migrator    *migration.Worker
	Recovery    *recovery.Orchestrator
	Generations *generation.Service

	static  http.Handler
	closers []func()
}

// Build connects the database, storage backend and provider client and wires
// the recovery and migration components on top of them.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	s := &Services{Config: cfg, Logger: logger}

	inner, creds, err := s.openDatabase(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	guard := repo.NewDatabaseGuard(cfg, logger)
	s.Repo = repo.NewResilientGenerationRepository(inner, guard, logger)

	s.Jobs, err = jobstatus.NewClient(jobstatus.Options{
		APIKey:         providerAPIKey(ctx, cfg.ProviderAPIKey, guard, creds, logger),
		BaseURL:        cfg.ProviderBaseURL,
		Model:          cfg.ProviderModel,
		RequestTimeout: cfg.ProviderTimeout,
		Logger:         infra.Component(logger, "jobstatus"),
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	if !s.Jobs.HasCredentials() {
		logger.Warn().Msg("bootstrap: provider api key missing, status lookups will fail")
	}

	if err := s.openStorage(ctx); err != nil {
		s.Close()
		return nil, err
	}

	thumbs := storage.MediaThumbnailer{Image: storage.NewImageThumbnailer()}
	if ff := storage.NewFFmpegThumbnailer(cfg.FFmpegPath); ff != nil {
		thumbs.Video = ff
	} else {
		logger.Info().Msg("bootstrap: ffmpeg not found, video thumbnails disabled")
	}

	s.Migrator, err = migration.NewWorker(migration.Options{
		Repo:        s.Repo,
		Store:       s.Store,
		Fetcher:     storage.NewHTTPFetcher(nil, cfg.StorageTimeout, resilience.DefaultRetryPolicy),
		Thumbnailer: thumbs,
		Hosts:       storage.NewHostClassifier(cfg.EphemeralMediaHosts, []string{s.Store.PublicBaseURL()}),
		Interval:    cfg.SweepInterval,
		BatchSize:   cfg.SweepBatchSize,
		Logger:      logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Recovery, err = recovery.NewOrchestrator(recovery.Options{
		Repo:       s.Repo,
		Jobs:       s.Jobs,
		Migrator:   s.Migrator,
		Reconciler: reconcile.New(cfg.GenerationTimeout),
		StaleAfter: cfg.RecoveryStaleAfter,
		Logger:     logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Generations = generation.NewService(s.Repo, s.Jobs, logger)
	return s, nil
}

type apiKeySource interface {
	ProviderAPIKey(ctx context.Context) (string, error)
}

// providerAPIKey prefers the configured key. The stored integration token is
// read through the same guard as every other database call, so an open
// breaker yields "" instead of another query.
func providerAPIKey(ctx context.Context, configured string, guard *resilience.Guard, creds apiKeySource, logger *infra.Logger) string {
	if configured != "" {
		return configured
	}
	return resilience.WithFallback(ctx, logger, "credentials.provider_api_key", func(ctx context.Context) (string, error) {
		return resilience.Do(ctx, guard, creds.ProviderAPIKey)
	}, "")
}

func (s *Services) openDatabase(ctx context.Context) (domain.GenerationRepository, *credentials.Store, error) {
	cfg, logger := s.Config, *s.Logger
	switch cfg.DatabaseDriver {
	case infra.DriverSQLite:
		db, err := infra.OpenSQLite(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, func() { _ = db.Close() })
		runner := infra.NewSQLiteRunner(db, logger)
		return repo.NewGenerationRepositorySQLite(runner), credentials.NewSQLiteStore(runner), nil
	default:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, pool.Close)
		runner := infra.NewSQLRunner(pool, logger)
		return repo.NewGenerationRepository(runner), credentials.NewStore(runner), nil
	}
}

func (s *Services) openStorage(ctx context.Context) error {
	cfg := s.Config
	switch cfg.StorageProvider {
	case storage.ProviderS3:
		store, err := storage.NewS3Store(ctx, storage.S3Options{
			Bucket:        cfg.StorageBucket,
			Region:        cfg.StorageRegion,
			Endpoint:      cfg.StorageEndpoint,
			PublicBaseURL: cfg.StoragePublicBaseURL,
			PathStyle:     cfg.StoragePathStyle,
			AccessKey:     cfg.StorageAccessKey,
			SecretKey:     cfg.StorageSecretKey,
			Timeout:       cfg.StorageTimeout,
		})
		if err != nil {
			return err
		}
		s.Store = store
	default:
		store, err := storage.NewFileStore(cfg.StoragePath, cfg.StoragePublicBaseURL)
		if err != nil {
			return err
		}
		s.Store = store
		s.static = http.FileServer(http.Dir(store.BasePath()))
	}
	s.Logger.Info().
		Str("provider", s.Store.Provider()).
		Str("bucket", s.Store.Bucket()).
		Str("public_base_url", s.Store.PublicBaseURL()).
		Msg("bootstrap: durable storage ready")
	return nil
}

// Router builds the HTTP surface. The sweep trigger is only exposed when this
// process runs the migration loop.
func (s *Services) Router() http.Handler {
	var sweeper handlers.Sweeper
	if s.Config.RunsSweep() {
		sweeper = s.Migrator
	}
	app := handlers.NewApp(s.Recovery, sweeper, s.Generations, s.Repo.Breaker(), s.Logger)
	return httpapi.NewRouter(app, s.Config, *s.Logger, s.static)
}

// Close releases database handles in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
