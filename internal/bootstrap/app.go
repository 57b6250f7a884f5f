package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"stockdispatch/internal/bootstrap/config"
	"stockdispatch/internal/bootstrap/database"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/persistence/schema"
)

// App holds what commands need besides the dispatch service.
type App struct {
	Config  config.Config
	DB      *gorm.DB
	Metrics *prometheus.Registry
}

// New builds an App outside the fx graph, for tests and one-off tooling.
func New(ctx context.Context, configFile string) (*App, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))

	cfg, err := config.Load(logCtx, configFile)
	if err != nil {
		return nil, errs.Wrap(err, "load config")
	}
	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, errs.Wrap(err, "open database")
	}

	return &App{Config: cfg, DB: db, Metrics: newRegistry()}, nil
}

// newRegistry carries the runtime collectors next to the pipeline's stage metrics.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	if err := schema.Migrate(ctx, a.DB); err != nil {
		return errs.Wrap(err, "migrate schema")
	}
	logging.Info(logCtx, "schema migrated",
		slog.String("schema_version", schema.Version),
		slog.String("database_driver", a.Config.Database.Driver),
	)
	return nil
}

// CheckSchema fails with schema.ErrNotInitialized until init-db has run against the database.
func (a *App) CheckSchema(ctx context.Context) error {
	if err := schema.Check(ctx, a.DB); err != nil {
		return errs.WithKind(err, errs.KindState)
	}
	return nil
}

// Ping reports whether the database answers.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return errs.Wrap(err, "get sql db")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errs.Wrap(err, "ping database")
	}
	return nil
}

func (a *App) Close(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	sqlDB, err := a.DB.DB()
	if err != nil {
		return errs.Wrap(err, "get sql db")
	}
	if err := sqlDB.Close(); err != nil {
		return errs.Wrap(err, "close sql db")
	}

	logging.Info(logging.WithAttrs(ctx, slog.String("component", "bootstrap.app")), "database connection closed")
	return nil
}
