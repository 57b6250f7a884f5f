package dispatch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

const notAvailable = "N/A"

var (
	lineItemsExportHeader = []string{
		"Référence",
		"Désignation",
		"Code EAN",
		"Taille",
		"Quantités BL",
		"Date Expe",
		"Nb max magasins (Référence)",
		"Nb max magasins (EAN)",
		"Nb max magasins final",
		"Référence non trouvée",
	}
	distributionExportHeader = []string{
		"ID Distribution",
		"Quantité",
		"ID Produit",
		"Référence",
		"Code EAN",
		"ID Magasin",
		"Code Magasin",
	}
)

// ExportLineItems writes the run's line items with their bounds as a ';' separated CSV.
// Nothing is written to w when the run has no line items.
func (s *Service) ExportLineItems(ctx context.Context, runID string, w io.Writer) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	if w == nil {
		return 0, errors.New("export writer is required")
	}
	if s.catalog == nil {
		return 0, errors.New("catalog repository is required")
	}

	run, _, err := s.loadRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	items, err := s.runs.ListLineItems(ctx, run.RunID)
	if err != nil {
		return 0, errs.WithKind(errs.Wrap(err, "load line items"), errs.KindPersistence)
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("%w: run %s has no line items", domaindispatch.ErrNothingToExport, run.RunID)
	}

	seen := make(map[uint64]struct{}, len(items))
	productIDs := make([]uint64, 0, len(items))
	for _, item := range items {
		if item.ProductID == nil {
			continue
		}
		if _, ok := seen[*item.ProductID]; !ok {
			seen[*item.ProductID] = struct{}{}
			productIDs = append(productIDs, *item.ProductID)
		}
	}
	products, err := s.catalog.GetProductsByID(ctx, productIDs)
	if err != nil {
		return 0, &domaindispatch.CollaboratorError{Collaborator: "catalog", Message: err.Error(), Err: err}
	}

	var buf bytes.Buffer
	writer := newExportWriter(&buf)
	if err := writer.Write(lineItemsExportHeader); err != nil {
		return 0, errs.Wrap(err, "write export header")
	}
	for _, item := range items {
		designation := notAvailable
		if item.ProductID != nil {
			if product, ok := products[*item.ProductID]; ok && product.Designation != "" {
				designation = product.Designation
			}
		}
		expedition := ""
		if item.ExpeditionDate != nil {
			expedition = *item.ExpeditionDate
		}
		if err := writer.Write([]string{
			item.Reference,
			designation,
			item.EANCode,
			item.Size,
			strconv.Itoa(item.Quantity),
			expedition,
			formatBound(item.MaxStoresByReference),
			formatBound(item.MaxStoresByEan),
			formatBound(item.MaxStoresFinal),
			yesNo(item.ReferenceNotFound),
		}); err != nil {
			return 0, errs.Wrap(err, "write export row")
		}
	}
	if err := flushExport(writer, &buf, w); err != nil {
		return 0, err
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.export")),
		"line items exported",
		slog.String("run_id", run.RunID),
		slog.Int("rows", len(items)),
	)
	return len(items), nil
}

// ExportDistribution writes the allocation records of the run's distribution as a ';' separated CSV.
func (s *Service) ExportDistribution(ctx context.Context, runID string, w io.Writer) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	if w == nil {
		return 0, errors.New("export writer is required")
	}
	if s.catalog == nil {
		return 0, errors.New("catalog repository is required")
	}

	run, _, err := s.loadRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	if run.DistributionID == nil || *run.DistributionID == "" {
		return 0, fmt.Errorf("%w: run %s has no distribution", domaindispatch.ErrNothingToExport, run.RunID)
	}

	records, err := s.runs.ListAllocationRecords(ctx, *run.DistributionID)
	if err != nil {
		return 0, errs.WithKind(errs.Wrap(err, "load allocation records"), errs.KindPersistence)
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("%w: distribution %s has no records", domaindispatch.ErrNothingToExport, *run.DistributionID)
	}

	products, stores, err := s.recordLookups(ctx, records)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	writer := newExportWriter(&buf)
	if err := writer.Write(distributionExportHeader); err != nil {
		return 0, errs.Wrap(err, "write export header")
	}
	for _, record := range records {
		reference := notAvailable
		if product, ok := products[record.ProductID]; ok && product.Reference != "" {
			reference = product.Reference
		}
		storeCode := notAvailable
		if store, ok := stores[record.StoreID]; ok && store.StoreCode != "" {
			storeCode = store.StoreCode
		}
		if err := writer.Write([]string{
			record.DistributionID,
			strconv.Itoa(record.Quantity),
			strconv.FormatUint(record.ProductID, 10),
			reference,
			record.EANCode,
			strconv.FormatUint(record.StoreID, 10),
			storeCode,
		}); err != nil {
			return 0, errs.Wrap(err, "write export row")
		}
	}
	if err := flushExport(writer, &buf, w); err != nil {
		return 0, err
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.export")),
		"distribution exported",
		slog.String("run_id", run.RunID),
		slog.String("distribution_id", *run.DistributionID),
		slog.Int("rows", len(records)),
	)
	return len(records), nil
}

func (s *Service) recordLookups(ctx context.Context, records []ports.AllocationRecord) (map[uint64]ports.Product, map[uint64]ports.Store, error) {
	productSeen := make(map[uint64]struct{}, len(records))
	storeSeen := make(map[uint64]struct{}, len(records))
	productIDs := make([]uint64, 0, len(records))
	storeIDs := make([]uint64, 0, len(records))
	for _, record := range records {
		if _, ok := productSeen[record.ProductID]; !ok {
			productSeen[record.ProductID] = struct{}{}
			productIDs = append(productIDs, record.ProductID)
		}
		if _, ok := storeSeen[record.StoreID]; !ok {
			storeSeen[record.StoreID] = struct{}{}
			storeIDs = append(storeIDs, record.StoreID)
		}
	}

	products, err := s.catalog.GetProductsByID(ctx, productIDs)
	if err != nil {
		return nil, nil, &domaindispatch.CollaboratorError{Collaborator: "catalog", Message: err.Error(), Err: err}
	}
	stores, err := s.catalog.GetStoresByID(ctx, storeIDs)
	if err != nil {
		return nil, nil, &domaindispatch.CollaboratorError{Collaborator: "catalog", Message: err.Error(), Err: err}
	}
	return products, stores, nil
}

func newExportWriter(w io.Writer) *csv.Writer {
	writer := csv.NewWriter(w)
	writer.Comma = ';'
	return writer
}

// flushExport copies the buffered document to w only once every row was encoded.
func flushExport(writer *csv.Writer, buf *bytes.Buffer, w io.Writer) error {
	writer.Flush()
	if err := writer.Error(); err != nil {
		return errs.Wrap(err, "encode export")
	}
	if _, err := io.Copy(w, buf); err != nil {
		return errs.Wrap(err, "write export")
	}
	return nil
}

// formatBound leaves the cell empty until the bound has been calculated.
func formatBound(bound *int) string {
	if bound == nil {
		return ""
	}
	return strconv.Itoa(*bound)
}

func yesNo(v bool) string {
	if v {
		return "Oui"
	}
	return "Non"
}
