// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/tildaslashalef/obrasync/internal/config"
	"github.com/tildaslashalef/obrasync/internal/database"
	"github.com/tildaslashalef/obrasync/internal/localcache"
	"github.com/tildaslashalef/obrasync/internal/loggy"
	"github.com/tildaslashalef/obrasync/internal/network"
	"github.com/tildaslashalef/obrasync/internal/photo"
	"github.com/tildaslashalef/obrasync/internal/queue"
	"github.com/tildaslashalef/obrasync/internal/reconcile"
	"github.com/tildaslashalef/obrasync/internal/remote"
	"github.com/tildaslashalef/obrasync/internal/sync"
	"github.com/tildaslashalef/obrasync/internal/utils"
	"github.com/urfave/cli/v2"
)

// App represents the application instance with its dependencies
type App struct {
	Config    *config.Config
	Settings  *config.SettingsService
	Queue     *queue.Service
	Photos    photo.Repository
	Pipeline  *photo.Pipeline
	Client    *remote.Client
	Remote    remote.Store
	Lister    remote.Lister
	Cache     localcache.Repository
	Checker   network.Checker
	Engine    *sync.Engine
	SyncLogs  sync.Repository
	Reconcile *reconcile.Service

	postgres *remote.PostgresStore
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
		"driver", cfg.Server.Driver,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if applied, err := database.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	} else if applied > 0 {
		loggy.Info("Applied pending migrations", "count", applied)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(context.Background(), cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(ctx context.Context, cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()

	settingsService := config.NewSettingsService(db, cfg, logger)
	if err := settingsService.Load(ctx); err != nil {
		loggy.Warn("Failed to load settings from database", "error", err)
	}
	if _, err := settingsService.EnsureDeviceName(ctx, utils.GenerateDeviceName); err != nil {
		loggy.Warn("Failed to ensure device name", "error", err)
	}

	queueService := queue.NewService(queue.NewSQLRepository(db, logger), logger)
	if n, err := queueService.ResetStale(ctx); err != nil {
		return nil, fmt.Errorf("failed to recover interrupted items: %w", err)
	} else if n > 0 {
		loggy.Warn("Recovered items left mid-sync by a previous run", "count", n)
	}

	client := remote.NewClient(remote.ClientConfig{
		BaseURL:       cfg.Server.URL,
		AnonKey:       cfg.Server.AnonKey,
		Token:         cfg.Server.Token,
		Table:         cfg.Server.Table,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		Timeout:       cfg.Server.Timeout,
	}, logger.With("component", "remote"))

	app := &App{
		Config:   cfg,
		Settings: settingsService,
		Queue:    queueService,
		Client:   client,
		Remote:   client,
		Lister:   client,
		Cache:    localcache.NewSQLRepository(db, logger),
		SyncLogs: sync.NewSQLRepository(db, logger),
	}

	if cfg.Server.Driver == "postgres" {
		pg, err := remote.NewPostgresStore(ctx, cfg.Server.PostgresDSN, cfg.Server.Table, logger.With("component", "postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		app.postgres = pg
		app.Remote = pg
		app.Lister = pg
	}

	app.Photos = photo.NewSQLRepository(db, logger)
	app.Pipeline = photo.NewPipeline(app.Photos, client, photo.PipelineConfig{
		Bucket:          cfg.Storage.Bucket,
		MaxRetries:      cfg.Upload.MaxRetries,
		InitialInterval: cfg.Upload.InitialInterval,
		MaxInterval:     cfg.Upload.MaxInterval,
		RequestsPerMin:  cfg.Upload.RequestsPerMin,
		BurstLimit:      cfg.Upload.BurstLimit,
	}, logger.With("component", "photos"))

	app.Checker = network.NewHTTPChecker(cfg.Sync.ProbeURL, cfg.Sync.ProbeTimeout)

	app.Engine = sync.NewEngine(
		queueService,
		app.Photos,
		app.Pipeline,
		app.Remote,
		app.Cache,
		app.Checker,
		app.SyncLogs,
		logger.With("component", "sync"),
	)

	app.Reconcile = reconcile.NewService(app.Cache, app.Remote, queueService, app.Photos, logger.With("component", "reconcile"))

	return app, nil
}

// NewMonitor creates a connectivity monitor using the configured probe
func (app *App) NewMonitor() *network.Monitor {
	return network.NewMonitor(
		app.Checker,
		app.Config.Sync.ProbeInterval,
		app.Config.Sync.SettleDelay,
		loggy.GetGlobalLogger().With("component", "network"),
	)
}

// Login stores a session token and hands it to the REST client
func (app *App) Login(ctx context.Context, token string) error {
	if err := app.Settings.SetToken(ctx, token); err != nil {
		return fmt.Errorf("saving session token: %w", err)
	}
	app.Client.SetToken(token)
	return nil
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if app.postgres != nil {
		app.postgres.Close()
	}

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
