package cmd

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"stockdispatch/internal/bootstrap"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/allocator"
	"stockdispatch/internal/usecase/dispatch"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Manage constraint parameters",
}

var paramsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Store a new parameters set",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		minRef, _ := cmd.Flags().GetInt("min-reference")
		minEan, _ := cmd.Flags().GetInt("min-ean")
		activate, _ := cmd.Flags().GetBool("activate")
		set, err := svc.CreateParameters(ctx, dispatch.CreateParametersInput{
			MinReferenceQuantity: minRef,
			MinEanQuantity:       minEan,
			Activate:             activate,
		})
		if err != nil {
			logging.Error(ctx, "create parameters failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "create parameters")
		}
		return printf(cmd, "created parameters #%d min_ref=%d min_ean=%d active=%t\n",
			set.ParametersID, set.MinReferenceQuantity, set.MinEanQuantity, set.Active)
	}),
}

var paramsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List parameters sets, newest first",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		sets, err := svc.ListParameters(ctx)
		if err != nil {
			logging.Error(ctx, "list parameters failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list parameters")
		}
		if len(sets) == 0 {
			return printf(cmd, "%s\n", dimStyle.Render("no parameters"))
		}
		for _, set := range sets {
			marker := " "
			if set.Active {
				marker = "*"
			}
			if err := printf(cmd, "%s #%d min_ref=%d min_ean=%d created=%s\n",
				marker, set.ParametersID, set.MinReferenceQuantity, set.MinEanQuantity, shortTime(set.CreatedAt)); err != nil {
				return err
			}
		}
		return nil
	}),
}

var paramsActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Make a parameters set active for new runs",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, err := strconv.ParseUint(cmd.Flags().Arg(0), 10, 64)
		if err != nil {
			return errs.Wrapf(err, "parse parameters id %q", cmd.Flags().Arg(0))
		}
		if err := svc.ActivateParameters(ctx, id); err != nil {
			logging.Error(ctx, "activate parameters failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "activate parameters")
		}
		return printf(cmd, "parameters #%d active\n", id)
	}),
}

var proceduresCmd = &cobra.Command{
	Use:   "procedures",
	Short: "Manage allocation procedures",
}

var proceduresSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upsert procedures from the TOML catalog",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			path = app.Config.Allocation.ProceduresFile
		}
		views, synced, err := syncProceduresFile(ctx, svc, path)
		if err != nil {
			return err
		}
		if err := printf(cmd, "synced %d procedures from %s\n", synced, path); err != nil {
			return err
		}
		return printProcedures(cmd, views)
	}),
}

func syncProceduresFile(ctx context.Context, svc *dispatch.Service, path string) ([]dispatch.ProcedureView, int, error) {
	catalog, err := allocator.LoadCatalog(path)
	if err != nil {
		logging.Error(ctx, "load procedures catalog failed", slog.String("path", path), slog.Any("err", errs.Loggable(err)))
		return nil, 0, errs.Wrap(err, "load procedures catalog")
	}

	views, err := svc.SyncProcedures(ctx, dispatch.SyncProceduresInput{
		Procedures: catalog.Procedures,
		Active:     catalog.Active,
	})
	if err != nil {
		logging.Error(ctx, "sync procedures failed", slog.Any("err", errs.Loggable(err)))
		return nil, 0, errs.Wrap(err, "sync procedures")
	}
	return views, len(catalog.Procedures), nil
}

var proceduresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List allocation procedures",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		views, err := svc.ListProcedures(ctx)
		if err != nil {
			logging.Error(ctx, "list procedures failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list procedures")
		}
		if len(views) == 0 {
			return printf(cmd, "%s\n", dimStyle.Render("no procedures"))
		}
		return printProcedures(cmd, views)
	}),
}

var proceduresActivateCmd = &cobra.Command{
	Use:   "activate <name>",
	Short: "Make a procedure active for new runs",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		name := cmd.Flags().Arg(0)
		if err := svc.ActivateProcedure(ctx, name); err != nil {
			logging.Error(ctx, "activate procedure failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "activate procedure")
		}
		return printf(cmd, "procedure %s active\n", name)
	}),
}

var proceduresSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the allocation request and result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		raw, err := allocator.ContractSchema()
		if err != nil {
			return errs.Wrap(err, "build contract schema")
		}
		return printf(cmd, "%s\n", raw)
	},
}

func printProcedures(cmd *cobra.Command, views []dispatch.ProcedureView) error {
	for _, view := range views {
		marker := " "
		if view.Active {
			marker = "*"
		}
		payload := view.Payload
		if payload == "" {
			payload = "{}"
		}
		if err := printf(cmd, "%s %s [%s] %s\n", marker, view.Name, view.Kind, dimStyle.Render(payload)); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(paramsCmd)
	paramsCmd.AddCommand(paramsCreateCmd)
	paramsCmd.AddCommand(paramsListCmd)
	paramsCmd.AddCommand(paramsActivateCmd)

	paramsCreateCmd.Flags().Int("min-reference", 0, "Minimum quantity per store for a reference")
	paramsCreateCmd.Flags().Int("min-ean", 0, "Minimum quantity per store for an EAN")
	paramsCreateCmd.Flags().Bool("activate", false, "Activate the new set")
	_ = paramsCreateCmd.MarkFlagRequired("min-reference")
	_ = paramsCreateCmd.MarkFlagRequired("min-ean")

	rootCmd.AddCommand(proceduresCmd)
	proceduresCmd.AddCommand(proceduresSyncCmd)
	proceduresCmd.AddCommand(proceduresListCmd)
	proceduresCmd.AddCommand(proceduresActivateCmd)
	proceduresCmd.AddCommand(proceduresSchemaCmd)

	proceduresSyncCmd.Flags().String("file", "", "Procedures TOML catalog (default: allocation.procedures_file)")
}
