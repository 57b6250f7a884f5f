package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"stockdispatch/internal/bootstrap"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/usecase/dispatch"
)

const lifecycleTimeout = 10 * time.Second

type appRunner func(cmd *cobra.Command, app *bootstrap.App, svc *dispatch.Service) error

// withApp starts the fx graph and refuses to run before init-db has prepared the database.
func withApp(run appRunner) func(cmd *cobra.Command, args []string) error {
	return bootApp(true, run)
}

// withAppNoSchemaCheck is for init-db, which creates the schema withApp checks for.
func withAppNoSchemaCheck(run appRunner) func(cmd *cobra.Command, args []string) error {
	return bootApp(false, run)
}

func bootApp(requireSchema bool, run appRunner) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := logging.WithAttrs(
			cmd.Context(),
			slog.String("command", cmd.CommandPath()),
			slog.String("config_file", cfgFile),
		)

		var app *bootstrap.App
		var svc *dispatch.Service
		fxApp := fx.New(
			bootstrap.Module,
			fx.Provide(func() context.Context { return ctx }),
			fx.Provide(
				fx.Annotate(
					func() string { return cfgFile },
					fx.ResultTags(`name:"configFile"`),
				),
			),
			fx.Populate(&app, &svc),
		)

		startCtx, cancelStart := context.WithTimeout(ctx, lifecycleTimeout)
		defer cancelStart()
		if err := fxApp.Start(startCtx); err != nil {
			logging.Error(ctx, "bootstrap application failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "start fx application")
		}
		defer func() {
			stopCtx, cancelStop := context.WithTimeout(context.Background(), lifecycleTimeout)
			defer cancelStop()
			if err := fxApp.Stop(stopCtx); err != nil {
				logging.Error(ctx, "fx application stop failed", slog.Any("err", errs.Loggable(err)))
			}
		}()

		if requireSchema {
			if err := app.CheckSchema(ctx); err != nil {
				logging.Error(ctx, "database not ready", slog.Any("err", errs.Loggable(err)))
				return err
			}
		}

		if err := run(cmd, app, svc); err != nil {
			return errs.Wrap(err, "run command")
		}
		return nil
	}
}
