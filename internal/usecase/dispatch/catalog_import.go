package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

// ImportProducts upserts products keyed by reference from a ';' separated CSV.
func (s *Service) ImportProducts(ctx context.Context, r io.Reader) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	if s.catalog == nil || s.uow == nil {
		return 0, errors.New("catalog repository and unit of work are required")
	}

	rows, err := domaindispatch.ParseProductsCSV(r)
	if err != nil {
		return 0, err
	}
	products := make([]ports.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, ports.Product{Reference: row.Reference, Designation: row.Designation})
	}

	var count int
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		count, err = s.catalog.UpsertProducts(txCtx, products)
		return err
	}); err != nil {
		return 0, errs.WithKind(errs.Wrap(err, "import products"), errs.KindPersistence)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.catalog")),
		"products imported",
		slog.Int("products", count),
	)
	return count, nil
}

// ImportStores upserts stores keyed by store code. Stores absent from the file keep their state.
func (s *Service) ImportStores(ctx context.Context, r io.Reader) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	if s.catalog == nil || s.uow == nil {
		return 0, errors.New("catalog repository and unit of work are required")
	}

	rows, err := domaindispatch.ParseStoresCSV(r)
	if err != nil {
		return 0, err
	}
	stores := make([]ports.Store, 0, len(rows))
	for _, row := range rows {
		stores = append(stores, ports.Store{
			StoreCode: row.StoreCode,
			Name:      row.Name,
			Weight:    row.Weight,
			IsActive:  row.IsActive,
		})
	}

	var count int
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		count, err = s.catalog.UpsertStores(txCtx, stores)
		return err
	}); err != nil {
		return 0, errs.WithKind(errs.Wrap(err, "import stores"), errs.KindPersistence)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.catalog")),
		"stores imported",
		slog.Int("stores", count),
	)
	return count, nil
}
