// Package control assembles the service from configuration: storage,
// cache, policy registry, HTTP server and background workers.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pruner-io/pruner/internal/api"
	"github.com/pruner-io/pruner/internal/core/config"
	"github.com/pruner-io/pruner/internal/core/worker"
	redisclient "github.com/pruner-io/pruner/internal/infra/redis"
	"github.com/pruner-io/pruner/internal/infra/storage"
	"github.com/pruner-io/pruner/internal/infra/storage/memory"
	"github.com/pruner-io/pruner/internal/infra/storage/postgres"
	"github.com/pruner-io/pruner/internal/policy"
	"github.com/pruner-io/pruner/internal/policy/designers"
	"github.com/pruner-io/pruner/internal/policy/pruners"
	"github.com/pruner-io/pruner/internal/policy/remote"
	"github.com/pruner-io/pruner/internal/tuning"
)

// App is the main application struct that manages the service lifecycle.
type App struct {
	cfg         *config.AppConfig
	svc         *tuning.Service
	server      *api.Server
	recycler    *worker.Recycler
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewApp creates a new App instance with all dependencies initialized.
func NewApp(cfg *config.AppConfig) (*App, error) {
	// 1. Initialize Storage
	var (
		studies storage.StudyRepository
		trials  storage.TrialRepository
		ops     storage.OperationRepository
		db      *postgres.DB
	)

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, err
		}

		studies = postgres.NewStudyRepo(db)
		trials = postgres.NewTrialRepo(db)
		ops = postgres.NewOperationRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		studies = memory.NewStudyRepo(store)
		trials = memory.NewTrialRepo(store)
		ops = memory.NewOperationRepo(store)
		slog.Info("Using Memory storage")
	}

	// 2. Operation cache: Redis when configured, in-process otherwise.
	var (
		redisClient *redisclient.Client
		cache       tuning.OpCache
	)
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, using local cache", "error", err)
		} else {
			cache = redisclient.NewOperationCache(redisClient)
			slog.Info("Using Redis operation cache")
		}
	}
	if cache == nil {
		cache = tuning.NewLocalCache()
	}

	// 3. Policy registry
	reg := policy.NewRegistry()
	pruners.RegisterAll(reg)
	designers.RegisterAll(reg)
	remote.RegisterAll(reg, remote.Config{
		Endpoints: cfg.Tuning.PolicyServers,
		Timeout:   cfg.Tuning.PolicyTimeout,
	})

	// 4. Tuning service
	svc := tuning.NewService(tuning.Config{
		Studies:        studies,
		Trials:         trials,
		Ops:            ops,
		Cache:          cache,
		Registry:       reg,
		RecyclePeriod:  cfg.Tuning.RecyclePeriod,
		LockTTL:        cfg.Tuning.LockTTL,
		MaxSuggestions: cfg.Tuning.MaxSuggestions,
		Lenient:        cfg.Tuning.Lenient,
	})

	// 5. HTTP server + health monitor
	monitor := api.NewMonitor(reg.Pruners(), reg.Designers())
	if db != nil {
		monitor.Register("postgres", true, db)
	}
	if redisClient != nil {
		monitor.Register("redis", false, redisClient)
	}
	server := api.NewServer(svc, monitor, cfg.Server.Port)

	// 6. Recycler: expires stale operations, reverts unacknowledged stops.
	recycler := worker.NewRecycler(worker.RecyclerConfig{
		RecyclePeriod: cfg.Tuning.RecyclePeriod,
		SweepGrace:    cfg.Tuning.SweepGrace,
	}, ops, trials)

	return &App{
		cfg:         cfg,
		svc:         svc,
		server:      server,
		recycler:    recycler,
		db:          db,
		redisClient: redisClient,
		log:         slog.Default(),
	}, nil
}

// Service exposes the tuning service, mainly for tests.
func (a *App) Service() *tuning.Service {
	return a.svc
}

// Start starts the HTTP server and background workers.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("HTTP server failed", "error", err)
		}
	}()

	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}

	go a.recycler.Start(ctx)

	a.log.Info("Pruner service started", "port", a.cfg.Server.Port)
	return nil
}

// Stop stops the application.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping pruner service...")

	// Drain in-flight requests before dropping connections.
	if err := a.server.Stop(ctx); err != nil {
		a.log.Warn("HTTP server shutdown", "error", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
	return nil
}
