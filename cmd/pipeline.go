package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"stockdispatch/internal/bootstrap"
	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/usecase/dispatch"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load a ';' separated stock manifest into a draft run",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		runID, _ := cmd.Flags().GetString("run")
		file, _ := cmd.Flags().GetString("file")
		reportPath, _ := cmd.Flags().GetString("not-found-report")
		quiet, _ := cmd.Flags().GetBool("quiet")

		in, err := openInput(cmd, file)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()

		result, err := svc.IngestManifest(ctx, dispatch.IngestManifestInput{
			RunID:    runID,
			Reader:   in,
			Progress: progressPrinter(cmd, quiet),
		})
		if err != nil {
			logging.Error(ctx, "ingest manifest failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "ingest manifest")
		}

		if err := printf(cmd, "run %s: %d rows ingested, %d line items without catalog match\n",
			result.RunID, result.Inserted, result.NotFound); err != nil {
			return err
		}
		if len(result.NotFoundReferences) == 0 || reportPath == "" {
			return nil
		}

		out, err := openOutput(cmd, reportPath)
		if err != nil {
			return err
		}
		defer func() { _ = out.Close() }()
		if err := dispatch.WriteNotFoundReport(out, result.NotFoundReferences); err != nil {
			return errs.Wrap(err, "write not-found report")
		}
		return printf(cmd, "%d unknown references written to %s\n", len(result.NotFoundReferences), reportPath)
	}),
}

var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Compute per-store count bounds for every line item of a run",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		runID, _ := cmd.Flags().GetString("run")
		quiet, _ := cmd.Flags().GetBool("quiet")
		result, err := svc.CalculateStoreCounts(ctx, dispatch.CalculateInput{
			RunID:    runID,
			Progress: progressPrinter(cmd, quiet),
		})
		if err != nil {
			logging.Error(ctx, "calculate store counts failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "calculate store counts")
		}
		return printf(cmd, "run %s: %d line items bounded (min_ref=%d min_ean=%d)\n",
			result.RunID,
			result.Processed,
			result.Parameters.MinReferenceQuantity,
			result.Parameters.MinEanQuantity,
		)
	}),
}

var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Run the snapshotted allocation procedure and mark the run distributed",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		runID, _ := cmd.Flags().GetString("run")
		actor, _ := cmd.Flags().GetString("actor")
		result, err := svc.Allocate(ctx, dispatch.AllocateInput{RunID: runID, Actor: actor})
		if err != nil {
			var collab *domaindispatch.CollaboratorError
			if errors.As(err, &collab) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "allocation procedure failed: %s\n", collab.Message)
			}
			logging.Error(ctx, "allocate run failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "allocate run")
		}
		return printf(cmd, "run %s distributed: distribution=%s records=%d\n", result.RunID, result.DistributionID, result.Records)
	}),
}

func progressPrinter(cmd *cobra.Command, quiet bool) dispatch.ProgressFunc {
	if quiet {
		return nil
	}
	return func(p dispatch.Progress) {
		switch {
		case p.Error != "":
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s stopped at %d/%d: %s\n", p.Stage, p.Processed, p.Total, p.Error)
		case p.Done:
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s done %d/%d\n", p.Stage, p.Processed, p.Total)
		default:
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s %d/%d (%d%%)\n", p.Stage, p.Processed, p.Total, p.Percent)
		}
	}
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(calculateCmd)
	rootCmd.AddCommand(allocateCmd)

	ingestCmd.Flags().String("run", "", "Run id")
	ingestCmd.Flags().String("file", "", "Manifest path, - for stdin")
	ingestCmd.Flags().String("not-found-report", "", "Write references missing from the catalog to this CSV path")
	ingestCmd.Flags().Bool("quiet", false, "Do not print progress")
	_ = ingestCmd.MarkFlagRequired("run")
	_ = ingestCmd.MarkFlagRequired("file")

	calculateCmd.Flags().String("run", "", "Run id")
	calculateCmd.Flags().Bool("quiet", false, "Do not print progress")
	_ = calculateCmd.MarkFlagRequired("run")

	allocateCmd.Flags().String("run", "", "Run id")
	allocateCmd.Flags().String("actor", "", "Operator requesting the distribution (default: run creator)")
	_ = allocateCmd.MarkFlagRequired("run")
}
