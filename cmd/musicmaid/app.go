package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"musicmaid/internal/blobstore"
	"musicmaid/internal/capacity"
	"musicmaid/internal/config"
	"musicmaid/internal/database"
	"musicmaid/internal/health"
	"musicmaid/internal/indexer"
	"musicmaid/internal/logging"
	"musicmaid/internal/metrics"
	"musicmaid/internal/scanner"
	"musicmaid/internal/services"
	"musicmaid/internal/tagwriter"
	"musicmaid/internal/tracing"
)

// App holds the wired services shared by every subcommand
type App struct {
	config   *config.AppConfig
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	db       *database.DatabaseManager
	repo     *services.Repository
	probe    *capacity.Probe
	blobs    *blobstore.Store
	indexer  *indexer.Indexer
	writer   *tagwriter.Writer
	tracer   *tracing.Tracer
}

// NewApp loads configuration and connects every service
func NewApp(configFile string) (*App, error) {
	loader := config.NewConfigLoader()
	if configFile != "" {
		loader.SetConfigFile(configFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)
	registry := prometheus.NewRegistry()
	app := &App{config: cfg, logger: logger, registry: registry, metrics: metrics.NewMetrics(registry)}

	if cfg.Tracing.Enabled {
		app.tracer, err = tracing.NewTracer(tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.UseOTLP)
		if err != nil {
			return nil, err
		}
	}

	app.db, err = database.NewDatabaseManager(&cfg.Database, logger.Zerolog())
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.NewMigrationManager(app.db.GetGormDB(), logger.Zerolog()).Migrate(); err != nil {
		app.Close()
		return nil, err
	}

	app.blobs, err = blobstore.New(app.db.GetGormDB(), blobstore.OptionsFromConfig(cfg.Blobs), app.metrics, logger.Zerolog())
	if err != nil {
		app.Close()
		return nil, err
	}

	app.repo = services.NewRepository(app.db.GetGormDB())
	app.probe = capacity.NewProbe(cfg.Writer.ReserveBytes, app.metrics)
	app.indexer = indexer.New(
		app.repo,
		app.blobs,
		indexer.Options{StorePictures: cfg.Blobs.StorePictures},
		app.metrics,
		logger,
	)
	app.writer = tagwriter.New(app.indexer, tagwriter.Options{
		NewPadding: cfg.Writer.NewPadding,
		Space:      app.probe,
	}, app.metrics, logger)
	return app, nil
}

// Scanner builds a scanner, overriding the configured worker count when workers > 0
func (a *App) Scanner(workers int) *scanner.FileScanner {
	opts := scanner.OptionsFromConfig(a.config.Indexer)
	if workers > 0 {
		opts.Workers = workers
	}
	return scanner.NewFileScanner(a.indexer, opts, a.metrics, a.logger)
}

// Health builds a checker over the database and the blob spill directory
func (a *App) Health() *health.Checker {
	return health.NewChecker(a.db, a.config.Blobs.SpillDir, a.probe)
}

// Close releases every service in reverse order of creation
func (a *App) Close() {
	if a.blobs != nil {
		a.blobs.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Zerolog().Error().Err(err).Msg("Failed to close database")
		}
	}
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Zerolog().Error().Err(err).Msg("Failed to flush traces")
		}
	}
}
