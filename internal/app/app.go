// Package app wires the harvester subsystems together and owns their
// startup and shutdown ordering.
package app

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/cache"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/queue"
	"github.com/ternarybob/praedium/internal/services/analytics"
	"github.com/ternarybob/praedium/internal/services/persist"
	"github.com/ternarybob/praedium/internal/services/scheduler"
	"github.com/ternarybob/praedium/internal/services/scraper"
	"github.com/ternarybob/praedium/internal/services/token"
	"github.com/ternarybob/praedium/internal/storage/badgerdb"
	"github.com/ternarybob/praedium/internal/storage/sqlite"
	"github.com/ternarybob/praedium/internal/upstream"
	"github.com/ternarybob/praedium/internal/worker"
)

// App holds the wired subsystems
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	Storage   interfaces.StorageManager
	Badger    *badgerdb.DB
	Cache     *cache.Service
	Broker    *queue.Broker
	Janitor   *queue.Janitor
	Token     *token.Service
	Persist   *persist.Service
	Analytics *analytics.Service
	Scraper   *scraper.Service
	Scheduler *scheduler.Service
	Workers   *worker.Pool
}

// New builds the application from configuration
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	storage, err := sqlite.NewManager(logger, &config.Storage.SQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
	}

	bdb, err := badgerdb.Open(logger, &config.Storage.Badger)
	if err != nil {
		storage.Close()
		return nil, fmt.Errorf("failed to initialize badger storage: %w", err)
	}

	cacheSvc := cache.NewService(bdb.Badger(), logger)

	broker, err := queue.NewBroker(bdb.Badger(), logger, queue.Options{
		Name:              config.Queue.Name,
		VisibilityTimeout: common.ParseDuration(config.Queue.VisibilityTimeout, 5*time.Minute),
		MaxAttempts:       config.Queue.MaxAttempts,
		PollInterval:      common.ParseDuration(config.Queue.PollInterval, time.Second),
	})
	if err != nil {
		bdb.Close()
		storage.Close()
		return nil, fmt.Errorf("failed to initialize queue broker: %w", err)
	}

	janitor := queue.NewJanitor(
		broker,
		storage.JobStorage(),
		common.ParseDuration(config.Queue.CleanupInterval, time.Hour),
		common.ParseDuration(config.Queue.CleanupGracePeriod, 24*time.Hour),
		logger,
	)

	tokenSvc := token.NewService(config.Token.EndpointURL, logger,
		token.WithRefreshInterval(common.ParseDuration(config.Token.RefreshInterval, token.DefaultRefreshInterval)))

	client := upstream.NewClient(config.Upstream.BaseURL, upstream.WithLogger(logger))

	persistSvc := persist.NewService(storage, cacheSvc, logger)
	analyticsSvc := analytics.NewService(storage.StatsStorage(), logger)

	scraperSvc := scraper.NewService(broker, storage, tokenSvc, analyticsSvc,
		common.ParseDuration(config.Scraper.RateLimitCooldown, scraper.DefaultCooldown), logger)

	schedulerSvc := scheduler.NewService(storage.MonitorStorage(), broker, logger)

	year, err := strconv.Atoi(config.Upstream.APIYear)
	if err != nil || year <= 0 {
		year = time.Now().Year()
	}

	pool := worker.NewPool(broker, client, tokenSvc, persistSvc, analyticsSvc, worker.Config{
		Concurrency:   config.Workers.Concurrency,
		Year:          year,
		ShutdownGrace: common.ParseDuration(config.Workers.ShutdownGrace, 10*time.Second),
	}, logger)

	return &App{
		Config:    config,
		Logger:    logger,
		Storage:   storage,
		Badger:    bdb,
		Cache:     cacheSvc,
		Broker:    broker,
		Janitor:   janitor,
		Token:     tokenSvc,
		Persist:   persistSvc,
		Analytics: analyticsSvc,
		Scraper:   scraperSvc,
		Scheduler: schedulerSvc,
		Workers:   pool,
	}, nil
}

// Start brings the background subsystems up
func (a *App) Start(ctx context.Context) error {
	// Rows left processing by a previous crash will never complete
	if failed, err := a.Storage.JobStorage().FailOrphanedJobs(ctx, "abandoned by restart"); err != nil {
		a.Logger.Warn().Err(err).Msg("Orphaned job cleanup failed")
	} else if failed > 0 {
		a.Logger.Info().Int("jobs", failed).Msg("Orphaned jobs failed on startup")
	}

	a.Token.StartAutoRefresh()
	a.Workers.Start()
	a.Janitor.Start()

	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	a.Logger.Info().Str("environment", a.Config.Environment).Msg("Praedium started")

	return nil
}

// Stop shuts the subsystems down in dependency order: stop producing
// work, drain the workers, then close the stores.
func (a *App) Stop() {
	a.Scheduler.Stop()
	a.Janitor.Stop()
	a.Workers.Stop()
	a.Token.Stop()

	if err := a.Badger.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close badger database")
	}
	if err := a.Storage.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close sqlite storage")
	}

	a.Logger.Info().Msg("Praedium stopped")
}
