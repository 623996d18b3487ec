// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/codehub-crawler/internal/api"
	"github.com/JakeFAU/codehub-crawler/internal/clock/system"
	"github.com/JakeFAU/codehub-crawler/internal/config"
	"github.com/JakeFAU/codehub-crawler/internal/crawler"
	"github.com/JakeFAU/codehub-crawler/internal/emulator"
	"github.com/JakeFAU/codehub-crawler/internal/id/uuid"
	"github.com/JakeFAU/codehub-crawler/internal/metrics"
	"github.com/JakeFAU/codehub-crawler/internal/orchestrator"
	pubsubPublisher "github.com/JakeFAU/codehub-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/codehub-crawler/internal/queue/memory"
	remoteEmulator "github.com/JakeFAU/codehub-crawler/internal/remote/emulator"
	remoteGitHub "github.com/JakeFAU/codehub-crawler/internal/remote/github"
	"github.com/JakeFAU/codehub-crawler/internal/remote/ratelimit"
	storeMemory "github.com/JakeFAU/codehub-crawler/internal/storage/memory"
	"github.com/JakeFAU/codehub-crawler/internal/storage/postgres"
	"github.com/JakeFAU/codehub-crawler/internal/storage/sqlite"
)

// App holds the shared, long-lived services for one process. It is built once
// at startup and closed when the command finishes.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        crawler.TaskStore
	remote       crawler.RemoteSource
	queue        *queueMemory.Queue
	publisher    *pubsubPublisher.Publisher
	orchestrator *orchestrator.Orchestrator
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetStore exposes the configured task store.
func (a *App) GetStore() crawler.TaskStore {
	return a.store
}

// GetQueue returns the in-process work queue.
func (a *App) GetQueue() *queueMemory.Queue {
	return a.queue
}

// GetOrchestrator returns the task orchestrator.
func (a *App) GetOrchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// New creates and initializes an App from cfg. It fails fast when a critical
// service cannot be initialized and releases anything already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	logger.Info("initializing application services",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("remote", cfg.Remote.Provider),
	)

	clock := system.New()
	store, err := OpenStore(ctx, cfg, clock, logger.Named("store"))
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logger, store: store}

	a.remote, err = NewRemote(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	var publisher crawler.Publisher
	if cfg.PubSub.TopicName != "" {
		a.publisher, err = pubsubPublisher.New(ctx, cfg.PubSub.ProjectID, logger.Named("pubsub"))
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to initialize publisher: %w", err)
		}
		publisher = a.publisher
		logger.Info("publishing task events", zap.String("topic", cfg.PubSub.TopicName))
	}

	a.queue = queueMemory.NewQueue(uuid.New(), queueMemory.Config{MaxInFlight: cfg.Queue.MaxInFlight}, logger.Named("queue"))
	a.orchestrator = orchestrator.New(
		store,
		a.remote,
		a.queue,
		publisher,
		clock,
		orchestrator.Config{Topic: cfg.PubSub.TopicName},
		logger.Named("orchestrator"),
	)
	logger.Info("application services initialized")
	return a, nil
}

// OpenStore builds the task store selected by storage.driver.
func OpenStore(ctx context.Context, cfg config.Config, clock crawler.Clock, logger *zap.Logger) (crawler.TaskStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory task store; tasks are lost on restart")
		return storeMemory.NewTaskStore(clock), nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:        cfg.Storage.SQLitePath,
			AutoMigrate: cfg.Storage.AutoMigrate,
		}, clock, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:         cfg.Storage.Postgres.DSN,
			MaxConns:    cfg.Storage.Postgres.MaxConns,
			AutoMigrate: cfg.Storage.AutoMigrate,
		}, clock, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}
}

// NewRemote builds the code-hosting source selected by remote.provider.
func NewRemote(cfg config.Config) (crawler.RemoteSource, error) {
	rateLimit := ratelimit.Config{RPS: cfg.Remote.RateLimitRPS, Burst: cfg.Remote.RateLimitBurst}
	switch cfg.Remote.Provider {
	case config.ProviderEmulator:
		client, err := remoteEmulator.New(remoteEmulator.Config{
			BaseURL:        cfg.Remote.BaseURL,
			RepoListPath:   cfg.Remote.RepoListPath,
			RepoDetailPath: cfg.Remote.RepoDetailPath,
			Timeout:        cfg.RemoteTimeout(),
			RateLimit:      rateLimit,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize emulator remote: %w", err)
		}
		return client, nil
	case config.ProviderGitHub:
		client, err := remoteGitHub.New(remoteGitHub.Config{
			Token:     cfg.Remote.GitHubToken,
			BaseURL:   cfg.Remote.GitHubBaseURL,
			Timeout:   cfg.RemoteTimeout(),
			RateLimit: rateLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize github remote: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown remote provider: %s", cfg.Remote.Provider)
	}
}

// Migrator is implemented by stores with an embedded schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports whether the task store is reachable.
func (a *App) Ready(ctx context.Context) error {
	if p, ok := a.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("task store: %w", err)
		}
	}
	return nil
}

// APIServer builds the HTTP API on top of the orchestrator.
func (a *App) APIServer() *api.Server {
	return api.NewServer(a.orchestrator, api.Config{
		RequestTimeout: a.cfg.RequestTimeout(),
		Ready:          a.Ready,
	}, a.logger.Named("api"))
}

// HTTPServer wraps the API in an http.Server listening on server.port.
func (a *App) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.APIServer().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// EmulatorServer builds the bundled code-hosting emulator from cfg.
func EmulatorServer(cfg config.Config, logger *zap.Logger) *http.Server {
	srv := emulator.NewServer(emulator.Config{
		ListDelay:   time.Duration(cfg.Emulator.ListDelayMs) * time.Millisecond,
		DetailDelay: time.Duration(cfg.Emulator.DetailDelayMs) * time.Millisecond,
	}, logger)
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Emulator.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Drain waits up to queue.drain_timeout_seconds for in-flight units.
func (a *App) Drain(ctx context.Context) error {
	if a.queue == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.DrainTimeout())
	defer cancel()
	if err := a.queue.Wait(ctx); err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}
	return nil
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() error {
	a.logger.Info("shutting down application services")
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
