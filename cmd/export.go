package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"stockdispatch/internal/bootstrap"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/usecase/dispatch"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export run data as ';' separated CSV",
}

var exportLinesCmd = &cobra.Command{
	Use:   "lines",
	Short: "Export the line items of a run with their store-count bounds",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		return runExport(cmd, "line items", svc.ExportLineItems)
	}),
}

var exportDistributionCmd = &cobra.Command{
	Use:   "distribution",
	Short: "Export the allocation records of a distributed run",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		return runExport(cmd, "distribution", svc.ExportDistribution)
	}),
}

type exportFunc func(ctx context.Context, runID string, w io.Writer) (int, error)

func runExport(cmd *cobra.Command, what string, export exportFunc) error {
	ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

	runID, _ := cmd.Flags().GetString("run")
	path, _ := cmd.Flags().GetString("out")

	out, err := openOutput(cmd, path)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	rows, err := export(ctx, runID, out)
	if err != nil {
		if path != "" && path != "-" {
			_ = out.Close()
			_ = os.Remove(path)
		}
		logging.Error(ctx, "export failed", slog.String("export", what), slog.Any("err", errs.Loggable(err)))
		return errs.Wrapf(err, "export %s", what)
	}
	if path == "" || path == "-" {
		return nil
	}
	return printf(cmd, "%d %s rows written to %s\n", rows, what, path)
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportLinesCmd)
	exportCmd.AddCommand(exportDistributionCmd)

	for _, c := range []*cobra.Command{exportLinesCmd, exportDistributionCmd} {
		c.Flags().String("run", "", "Run id")
		c.Flags().String("out", "", "Output CSV path (default: stdout)")
		_ = c.MarkFlagRequired("run")
	}
}
