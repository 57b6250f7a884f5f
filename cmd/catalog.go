package cmd

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"stockdispatch/internal/bootstrap"
	"stockdispatch/internal/bootstrap/logging"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/usecase/dispatch"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Import the product and store catalog",
}

var catalogProductsCmd = &cobra.Command{
	Use:   "import-products",
	Short: "Upsert products from a ';' separated CSV (Référence;Désignation)",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		return runImport(cmd, "products", svc.ImportProducts)
	}),
}

var catalogStoresCmd = &cobra.Command{
	Use:   "import-stores",
	Short: "Upsert stores from a ';' separated CSV (Code Entité;Enseigne;Poids repartition (PVP Base article);Actif)",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *dispatch.Service) error {
		return runImport(cmd, "stores", svc.ImportStores)
	}),
}

type importFunc func(ctx context.Context, r io.Reader) (int, error)

func runImport(cmd *cobra.Command, what string, importer importFunc) error {
	ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

	file, _ := cmd.Flags().GetString("file")
	in, err := openInput(cmd, file)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	count, err := importer(ctx, in)
	if err != nil {
		logging.Error(ctx, "catalog import failed", slog.String("import", what), slog.Any("err", errs.Loggable(err)))
		return errs.Wrapf(err, "import %s", what)
	}
	return printf(cmd, "%d %s imported\n", count, what)
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogProductsCmd)
	catalogCmd.AddCommand(catalogStoresCmd)

	for _, c := range []*cobra.Command{catalogProductsCmd, catalogStoresCmd} {
		c.Flags().String("file", "", "CSV path, - for stdin")
		_ = c.MarkFlagRequired("file")
	}
}
