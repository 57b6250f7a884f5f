package dispatch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

const notFoundReportHeader = "Référence"

// IngestManifest parses a manifest, resolves its references and stores one line item per row
// in batches. Batches committed before a failure stay in place; the returned *PartialError
// says how far ingestion got. On success the run moves to manifest-loaded.
func (s *Service) IngestManifest(ctx context.Context, input IngestManifestInput) (result IngestManifestResult, err error) {
	if err := checkContext(ctx); err != nil {
		return IngestManifestResult{}, err
	}
	if input.Reader == nil {
		return IngestManifestResult{}, errs.WithKind(errors.New("manifest reader is required"), errs.KindInput)
	}
	if s.uow == nil {
		return IngestManifestResult{}, errors.New("unit of work is required")
	}

	run, status, err := s.loadRun(ctx, input.RunID)
	if err != nil {
		return IngestManifestResult{}, err
	}
	if err := requireStatus(run.RunID, status, "ingest manifest", domaindispatch.StatusDraft); err != nil {
		return IngestManifestResult{}, err
	}
	existing, err := s.runs.CountLineItems(ctx, run.RunID)
	if err != nil {
		return IngestManifestResult{}, errs.WithKind(errs.Wrap(err, "count line items"), errs.KindPersistence)
	}
	if existing > 0 {
		return IngestManifestResult{}, fmt.Errorf("%w: run %s has %d line items, discard them first", domaindispatch.ErrRunHasLineItems, run.RunID, existing)
	}

	logCtx := logging.WithRun(ctx, "dispatch.ingest", run.RunID, StageIngest)
	started := time.Now()
	defer func() { s.observe(StageIngest, started, err) }()

	manifest, err := domaindispatch.ParseManifest(input.Reader)
	if err != nil {
		return IngestManifestResult{}, err
	}

	ids, err := s.resolveReferences(ctx, manifest.DistinctReferences())
	if err != nil {
		return IngestManifestResult{}, err
	}

	items := make([]ports.LineItemCreate, 0, len(manifest.Rows))
	for _, row := range manifest.Rows {
		item := ports.LineItemCreate{
			RunID:          run.RunID,
			Reference:      row.Reference,
			EANCode:        row.EANCode,
			Size:           row.Size,
			Quantity:       row.Quantity,
			ExpeditionDate: row.ExpeditionDate,
		}
		if id, ok := ids[row.Reference]; ok {
			productID := id
			item.ProductID = &productID
		} else {
			item.ReferenceNotFound = true
			result.NotFound++
		}
		items = append(items, item)
	}
	for _, reference := range manifest.DistinctReferences() {
		if _, ok := ids[reference]; !ok {
			result.NotFoundReferences = append(result.NotFoundReferences, reference)
		}
	}
	result.RunID = run.RunID
	result.Rows = len(items)

	total := len(items)
	for start := 0; start < total; start += s.batchSize {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, s.failIngest(logCtx, input.Progress, run.RunID, result.Inserted, total, ctxErr)
		}

		end := min(start+s.batchSize, total)
		batch := items[start:end]
		if batchErr := s.uow.WithTx(ctx, func(txCtx context.Context) error {
			return s.runs.InsertLineItems(txCtx, batch)
		}); batchErr != nil {
			return result, s.failIngest(logCtx, input.Progress, run.RunID, result.Inserted, total, batchErr)
		}

		result.Inserted = end
		logging.Debug(logCtx, "line item batch committed", slog.Int("processed", end), slog.Int("total", total))
		s.countItems(StageIngest, len(batch))
		s.reportProgress(ctx, input.Progress, Progress{
			RunID:     run.RunID,
			Stage:     StageIngest,
			Processed: result.Inserted,
			Total:     total,
		})
	}

	if err := s.updateStatus(ctx, run.RunID, status, domaindispatch.StatusManifestLoaded); err != nil {
		return result, err
	}
	s.announce(ctx, run.RunID, status, domaindispatch.StatusManifestLoaded, run.CreatedBy)
	s.reportProgress(ctx, input.Progress, Progress{
		RunID:     run.RunID,
		Stage:     StageIngest,
		Processed: result.Inserted,
		Total:     total,
		Done:      true,
	})

	if len(result.NotFoundReferences) > 0 {
		logging.Warn(logCtx, "manifest references not found in catalog",
			slog.Int("references", len(result.NotFoundReferences)),
			slog.Int("line_items", result.NotFound),
		)
	}
	logging.Info(logCtx, "manifest ingested",
		slog.Int("line_items", result.Inserted),
		slog.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (s *Service) failIngest(ctx context.Context, callback ProgressFunc, runID string, processed int, total int, cause error) error {
	partial := &domaindispatch.PartialError{
		Stage:     StageIngest,
		Processed: processed,
		Total:     total,
		Err:       cause,
	}
	s.reportProgress(ctx, callback, Progress{
		RunID:     runID,
		Stage:     StageIngest,
		Processed: processed,
		Total:     total,
		Error:     partial.Error(),
	})
	logging.Error(ctx, "manifest ingestion stopped", slog.Any("err", errs.Loggable(partial)))
	return partial
}

// WriteNotFoundReport writes the unresolved references as a one-column CSV.
func WriteNotFoundReport(w io.Writer, references []string) error {
	writer := csv.NewWriter(w)
	writer.Comma = ';'
	if err := writer.Write([]string{notFoundReportHeader}); err != nil {
		return errs.Wrap(err, "write not-found header")
	}
	for _, reference := range references {
		if err := writer.Write([]string{reference}); err != nil {
			return errs.Wrap(err, "write not-found reference")
		}
	}
	writer.Flush()
	return writer.Error()
}
