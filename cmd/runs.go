package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"stockdispatch/internal/bootstrap"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/usecase/dispatch"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Create, inspect and abandon dispatch runs",
}

var runsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft run with the active parameters and procedure",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		name, _ := cmd.Flags().GetString("name")
		actor, _ := cmd.Flags().GetString("actor")
		run, err := svc.CreateRun(ctx, dispatch.CreateRunInput{Name: name, Actor: actor})
		if err != nil {
			logging.Error(ctx, "create run failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "create run")
		}
		return printf(cmd, "created run: %s procedure=%s min_ref=%d min_ean=%d\n",
			run.RunID,
			run.Procedure.Name,
			run.Parameters.MinReferenceQuantity,
			run.Parameters.MinEanQuantity,
		)
	}),
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := svc.ListRuns(ctx, dispatch.ListRunsInput{Status: status, Limit: limit})
		if err != nil {
			logging.Error(ctx, "list runs failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "list runs")
		}
		if len(runs) == 0 {
			return printf(cmd, "%s\n", dimStyle.Render("no runs"))
		}

		if err := printf(cmd, "%s\n", headerStyle.Render(fmt.Sprintf("%-36s  %-24s  %-20s  %s", "RUN", "STATUS", "CREATED", "NAME"))); err != nil {
			return err
		}
		for _, run := range runs {
			status := renderStatus(run.Status)
			pad := max(24-len(run.Status), 0)
			if err := printf(cmd, "%-36s  %s%s  %-20s  %s\n",
				run.RunID,
				status,
				strings.Repeat(" ", pad),
				shortTime(run.CreatedAt),
				run.Name,
			); err != nil {
				return err
			}
		}
		return nil
	}),
}

var runsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a run with its counts and stage progress",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		runID, _ := cmd.Flags().GetString("run")
		output, _ := cmd.Flags().GetString("output")
		detail, err := svc.GetRun(ctx, runID)
		if err != nil {
			logging.Error(ctx, "show run failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "show run")
		}

		switch strings.ToLower(strings.TrimSpace(output)) {
		case "yaml":
			return writeRunYAML(cmd.OutOrStdout(), detail)
		case "", "text":
		default:
			return fmt.Errorf("unsupported output %q (text|yaml)", output)
		}

		distribution := detail.DistributionID
		if distribution == "" {
			distribution = "-"
		}
		lines := []string{
			fmt.Sprintf("Run: %s", detail.RunID),
			fmt.Sprintf("Name: %s", detail.Name),
			fmt.Sprintf("Status: %s", renderStatus(detail.Status)),
			fmt.Sprintf("Parameters: #%d min_ref=%d min_ean=%d", detail.ParametersID, detail.Parameters.MinReferenceQuantity, detail.Parameters.MinEanQuantity),
			fmt.Sprintf("Procedure: %s (%s)", detail.Procedure.Name, detail.Procedure.Kind),
			fmt.Sprintf("LineItems: %d", detail.LineItems),
			fmt.Sprintf("Distribution: %s records=%d", distribution, detail.AllocationRecords),
			fmt.Sprintf("CreatedBy: %s", detail.CreatedBy),
			fmt.Sprintf("CreatedAt: %s", detail.CreatedAt),
			fmt.Sprintf("UpdatedAt: %s", detail.UpdatedAt),
		}
		for _, line := range lines {
			if err := printf(cmd, "%s\n", line); err != nil {
				return err
			}
		}

		if len(detail.Progress) == 0 {
			return nil
		}
		if err := printf(cmd, "\nProgress:\n"); err != nil {
			return err
		}
		for _, p := range detail.Progress {
			state := "running"
			if p.Done {
				state = "done"
			}
			if p.Error != "" {
				state = "failed: " + p.Error
			}
			if err := printf(cmd, "- %s %d/%d (%d%%) %s\n", p.Stage, p.Processed, p.Total, p.Percent, state); err != nil {
				return err
			}
		}
		return nil
	}),
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a run that was not distributed",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		runID, _ := cmd.Flags().GetString("run")
		if err := svc.DeleteRun(ctx, runID); err != nil {
			logging.Error(ctx, "delete run failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "delete run")
		}
		return printf(cmd, "deleted run: %s\n", runID)
	}),
}

var runsMarkErrorCmd = &cobra.Command{
	Use:   "mark-error",
	Short: "Park a run in the error state",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		runID, _ := cmd.Flags().GetString("run")
		actor, _ := cmd.Flags().GetString("actor")
		reason, _ := cmd.Flags().GetString("reason")
		run, err := svc.MarkError(ctx, dispatch.MarkErrorInput{RunID: runID, Actor: actor, Reason: reason})
		if err != nil {
			logging.Error(ctx, "mark run error failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "mark run error")
		}
		return printf(cmd, "run %s is now %s\n", run.RunID, run.Status)
	}),
}

var runsRefreshParamsCmd = &cobra.Command{
	Use:   "refresh-params",
	Short: "Re-snapshot the active parameters onto a run",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		runID, _ := cmd.Flags().GetString("run")
		result, err := svc.RefreshParameters(ctx, runID)
		if err != nil {
			logging.Error(ctx, "refresh run parameters failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "refresh run parameters")
		}
		if err := printf(cmd, "run %s now uses parameters #%d min_ref=%d min_ean=%d\n",
			result.Run.RunID,
			result.Run.ParametersID,
			result.Run.Parameters.MinReferenceQuantity,
			result.Run.Parameters.MinEanQuantity,
		); err != nil {
			return err
		}
		if result.Recalculate {
			return printf(cmd, "store counts cleared, run is back to %s: run `calculate` again\n", result.Run.Status)
		}
		return nil
	}),
}

var runsDiscardLinesCmd = &cobra.Command{
	Use:   "discard-lines",
	Short: "Remove line items left by an interrupted ingest",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		runID, _ := cmd.Flags().GetString("run")
		removed, err := svc.DiscardLineItems(ctx, runID)
		if err != nil {
			logging.Error(ctx, "discard line items failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "discard line items")
		}
		return printf(cmd, "removed %d line items from run %s\n", removed, runID)
	}),
}

func shortTime(value string) string {
	if len(value) >= 19 {
		return strings.Replace(value[:19], "T", " ", 1)
	}
	return value
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsCreateCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsMarkErrorCmd)
	runsCmd.AddCommand(runsRefreshParamsCmd)
	runsCmd.AddCommand(runsDiscardLinesCmd)

	runsCreateCmd.Flags().String("name", "", "Run name")
	runsCreateCmd.Flags().String("actor", "", "Run creator (default: system)")
	_ = runsCreateCmd.MarkFlagRequired("name")

	runsListCmd.Flags().String("status", "", "Filter by status (draft|manifest-loaded|store-counts-calculated|distributed|error)")
	runsListCmd.Flags().Int("limit", 50, "Maximum number of runs")

	runsShowCmd.Flags().String("run", "", "Run id")
	runsShowCmd.Flags().String("output", "text", "Output format (text|yaml)")
	_ = runsShowCmd.MarkFlagRequired("run")

	runsDeleteCmd.Flags().String("run", "", "Run id")
	_ = runsDeleteCmd.MarkFlagRequired("run")

	runsMarkErrorCmd.Flags().String("run", "", "Run id")
	runsMarkErrorCmd.Flags().String("actor", "", "Operator marking the run")
	runsMarkErrorCmd.Flags().String("reason", "", "Why the run is abandoned")
	_ = runsMarkErrorCmd.MarkFlagRequired("run")

	runsRefreshParamsCmd.Flags().String("run", "", "Run id")
	_ = runsRefreshParamsCmd.MarkFlagRequired("run")

	runsDiscardLinesCmd.Flags().String("run", "", "Run id")
	_ = runsDiscardLinesCmd.MarkFlagRequired("run")
}
