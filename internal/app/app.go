// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/tildaslashalef/fieldsync/internal/config"
	"github.com/tildaslashalef/fieldsync/internal/conflict"
	"github.com/tildaslashalef/fieldsync/internal/database"
	"github.com/tildaslashalef/fieldsync/internal/loggy"
	"github.com/tildaslashalef/fieldsync/internal/network"
	"github.com/tildaslashalef/fieldsync/internal/queue"
	"github.com/tildaslashalef/fieldsync/internal/store"
	"github.com/tildaslashalef/fieldsync/internal/sync"
	"github.com/tildaslashalef/fieldsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// App represents the application instance with its dependencies
type App struct {
	Config    *config.Config
	Settings  *config.SettingsService
	Store     *store.Service
	Queue     *queue.Queue
	Conflicts *conflict.Manager
	Monitor   *network.Monitor
	Client    *sync.HTTPClient
	Engine    *sync.Engine
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
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// The local store must be usable offline on first launch, so the schema
	// is brought up to date on every start
	if _, err := database.RunMigrations(); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully", "device", cfg.Server.DeviceName)
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
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()
	ctx := context.Background()

	settingsService := config.NewSettingsService(config.NewSQLSettingsRepository(db, logger), cfg, logger)
	if err := settingsService.LoadServerSettings(ctx); err != nil {
		loggy.Warn("Failed to load server settings from database", "error", err)
	}

	if cfg.Server.DeviceName == "" {
		name := utils.GenerateDeviceName()
		if err := settingsService.SetDeviceName(ctx, name); err != nil {
			loggy.Warn("Failed to persist generated device name", "error", err)
		}
		loggy.Info("Generated device name", "device", name)
	}

	storeService := store.NewService(db, logger)

	syncQueue := queue.New(db, queue.Config{
		MaxSize:         cfg.Sync.MaxQueueSize,
		EvictBatch:      cfg.Sync.EvictBatch,
		DefaultPriority: cfg.Sync.DefaultPriority,
	}, logger)

	conflictManager := conflict.NewManager(db, storeService.Repository(), syncQueue, conflict.Config{
		MoneyTolerance:     cfg.Sync.MoneyTolerance,
		ResolutionPriority: cfg.Sync.ResolutionPriority,
	}, logger)

	// Assume connectivity until the first probe says otherwise; a failed
	// cycle is cheap and leaves the queue intact
	monitor := network.NewMonitor(true, logger)

	client := sync.NewHTTPClient(cfg.Server, logger)

	engine := sync.New(
		db,
		storeService.Repository(),
		syncQueue,
		conflictManager,
		client,
		monitor,
		settingsService,
		sync.Config{
			DebounceDelay:  cfg.Sync.DebounceDelay,
			MaxPushRetries: cfg.Sync.MaxPushRetries,
		},
		logger,
	)

	return &App{
		Config:    cfg,
		Settings:  settingsService,
		Store:     storeService,
		Queue:     syncQueue,
		Conflicts: conflictManager,
		Monitor:   monitor,
		Client:    client,
		Engine:    engine,
	}, nil
}

func (app *App) newProber() *network.Prober {
	return network.NewProber(
		app.Config.ProbeURL(),
		app.Config.Network.ProbeInterval,
		app.Config.Network.ProbeTimeout,
		loggy.GetGlobalLogger(),
	)
}

// StartProber polls the server health endpoint until ctx is done and feeds
// the results to the network monitor
func (app *App) StartProber(ctx context.Context) {
	prober := app.newProber()
	go app.Monitor.Watch(ctx, prober.Run(ctx))
}

// ProbeOnce checks connectivity a single time and records the result
func (app *App) ProbeOnce(ctx context.Context) bool {
	online := app.newProber().Probe(ctx)
	app.Monitor.Set(online)
	return online
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	if app.Engine != nil {
		app.Engine.Stop()
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
