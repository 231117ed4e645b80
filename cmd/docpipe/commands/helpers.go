package commands

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/serviceintel-ai/docpipe/internal/cache"
	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/dedup"
	"github.com/serviceintel-ai/docpipe/internal/embedding"
	"github.com/serviceintel-ai/docpipe/internal/objectstore"
	"github.com/serviceintel-ai/docpipe/internal/observability"
	"github.com/serviceintel-ai/docpipe/internal/pipeline"
	"github.com/serviceintel-ai/docpipe/internal/scrape"
	"github.com/serviceintel-ai/docpipe/internal/storage"
	"github.com/serviceintel-ai/docpipe/internal/vision"
)

// app is the fully wired pipeline: one instance per process.
type app struct {
	cfg       *config.Config
	logger    *observability.Logger
	db        *sql.DB
	repos     *storage.Repositories
	cache     *cache.Client
	scheduler *pipeline.Scheduler
	driver    *pipeline.Driver
}

func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func buildLogger(cfg *config.Config) *observability.Logger {
	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		ServiceName: "docpipe",
	})
}

// buildApp wires the whole pipeline: config, logger, database, cache, object
// store, clients, stages, orchestrator, scheduler, driver.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := buildLogger(cfg)

	db, err := storage.Open(ctx, cfg.Database.DSN, storage.OpenOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection: %w", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	repos := storage.NewRepositories(db)

	// The cache is an accelerator, not a dependency: without it the dedup
	// index reads the database and the scheduler skips the advisory lock.
	cacheClient, err := cache.New(ctx, redisURL(cfg.Cache.Addr), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, continuing without cache")
		cacheClient = nil
	}

	store, err := objectstore.New(ctx, cfg.ObjectStore, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	deps := &pipeline.Deps{
		Repos:    repos,
		Store:    store,
		Dedup:    dedup.New(cacheClient, repos, cfg.Cache.TTL, logger),
		Embedder: buildEmbedder(cfg, logger),
		Vision:   buildVision(cfg, logger),
		Scraper:  scrape.NewService(cfg.Scrape, logger),
		Config:   cfg,
		Logger:   logger,
	}

	registry, err := pipeline.NewRegistry(pipeline.NewStages(deps)...)
	if err != nil {
		db.Close()
		return nil, err
	}
	orchestrator := pipeline.NewOrchestrator(repos, registry, logger)
	scheduler := pipeline.NewScheduler(orchestrator, cfg.Pipeline, cacheClient, logger)
	driver := pipeline.NewDriver(scheduler, repos, cfg.Driver, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		repos:     repos,
		cache:     cacheClient,
		scheduler: scheduler,
		driver:    driver,
	}, nil
}

// buildEmbedder returns the HTTP client, or the deterministic mock when no
// endpoint is configured so the pipeline stays runnable offline.
func buildEmbedder(cfg *config.Config, logger *observability.Logger) embedding.Embedder {
	if cfg.Embedding.BaseURL == "" {
		logger.Warn().Msg("no embedding endpoint configured, using mock embedder")
		return embedding.NewMock(cfg.Embedding.Dimension)
	}
	return embedding.NewClient(cfg.Embedding, logger)
}

func buildVision(cfg *config.Config, logger *observability.Logger) vision.Describer {
	if cfg.Vision.BaseURL == "" {
		logger.Warn().Msg("no vision endpoint configured, using mock describer")
		return &vision.Mock{}
	}
	return vision.NewClient(cfg.Vision, logger)
}

func redisURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "redis://" + addr
}
