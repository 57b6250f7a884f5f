package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"stockdispatch/internal/bootstrap"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/usecase/dispatch"
)

var initDbCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create or upgrade the database schema",
	Long: "Create or upgrade the database schema. With --procedures the procedures catalog\n" +
		"(allocation.procedures_file) is synced as well, so a fresh database can start runs.",
	RunE: withAppNoSchemaCheck(func(cmd *cobra.Command, app *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		if err := app.InitSchema(ctx); err != nil {
			logging.Error(ctx, "initialize schema failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "initialize schema")
		}
		if err := printf(cmd, "database schema ready: %s (%s)\n", app.Config.Database.DSN, app.Config.Database.Driver); err != nil {
			return err
		}

		withProcedures, _ := cmd.Flags().GetBool("procedures")
		if !withProcedures {
			return nil
		}
		path := app.Config.Allocation.ProceduresFile
		_, synced, err := syncProceduresFile(ctx, svc, path)
		if err != nil {
			return err
		}
		return printf(cmd, "synced %d procedures from %s\n", synced, path)
	}),
}

func init() {
	rootCmd.AddCommand(initDbCmd)
	initDbCmd.Flags().Bool("procedures", false, "Also sync the procedures catalog from allocation.procedures_file")
}
