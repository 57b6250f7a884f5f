package bootstrap

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"stockdispatch/internal/bootstrap/config"
	"stockdispatch/internal/bootstrap/database"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/allocator"
	cacheinfra "stockdispatch/internal/infrastructure/cache"
	"stockdispatch/internal/infrastructure/events"
	"stockdispatch/internal/infrastructure/metrics"
	sqliterepo "stockdispatch/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "stockdispatch/internal/infrastructure/persistence/sqlite/uow"
	"stockdispatch/internal/ports"
	"stockdispatch/internal/usecase/dispatch"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewDispatchRepository,
			fx.As(new(ports.DispatchRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewSettingsRepository,
			fx.As(new(ports.SettingsRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewCatalogRepository,
			fx.As(new(ports.CatalogRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewProgressStore,
			fx.As(new(ports.ProgressStore)),
		),
	),
	fx.Provide(allocator.NewWeighted),
	fx.Provide(provideAllocators),
	fx.Provide(provideEvents),
	fx.Provide(provideMetrics),
	fx.Provide(provideService),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB, reg *prometheus.Registry) *App {
	return &App{
		Config:  cfg,
		DB:      db,
		Metrics: reg,
	}
}

// Process procedures receive the database DSN so they can write their records directly.
func provideAllocators(weighted *allocator.Weighted, cfg config.Config) ports.AllocatorResolver {
	return allocator.NewRegistry(weighted, cfg.Database.DSN, &http.Client{})
}

func provideEvents(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (ports.RunEventPublisher, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))
	if cfg.Events.NATSURL == "" {
		logging.Info(logCtx, "run events logged only, events.nats_url is empty")
		return events.LogPublisher{}, nil
	}

	publisher, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject)
	if err != nil {
		return nil, errs.Wrap(err, "connect run event publisher")
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return publisher.Close()
		},
	})
	logging.Info(logCtx, "run events published to nats", slog.String("subject", cfg.Events.Subject))
	return publisher, nil
}

type metricsResult struct {
	fx.Out

	Registry *prometheus.Registry
	Recorder ports.StageRecorder
}

func provideMetrics(cfg config.Config) (metricsResult, error) {
	reg := newRegistry()
	if !cfg.Metrics.Enabled {
		return metricsResult{Registry: reg, Recorder: metrics.Nop{}}, nil
	}
	recorder, err := metrics.NewStageRecorder(reg)
	if err != nil {
		return metricsResult{}, errs.Wrap(err, "register stage metrics")
	}
	return metricsResult{Registry: reg, Recorder: recorder}, nil
}

type serviceParams struct {
	fx.In

	Config     config.Config
	Runs       ports.DispatchRepository
	Settings   ports.SettingsRepository
	Catalog    ports.CatalogRepository
	UnitOfWork ports.UnitOfWork
	Progress   ports.ProgressStore
	Allocators ports.AllocatorResolver
	Events     ports.RunEventPublisher
	Recorder   ports.StageRecorder
}

func provideService(p serviceParams) *dispatch.Service {
	return dispatch.NewService(dispatch.Dependencies{
		Runs:            p.Runs,
		Settings:        p.Settings,
		Catalog:         p.Catalog,
		UnitOfWork:      p.UnitOfWork,
		Progress:        p.Progress,
		Allocators:      p.Allocators,
		Events:          p.Events,
		Recorder:        p.Recorder,
		ValidatePayload: allocator.ValidatePayload,
	}, dispatch.Options{
		BatchSize:         p.Config.Ingest.BatchSize,
		AllocationTimeout: p.Config.Allocation.Timeout,
	})
}
