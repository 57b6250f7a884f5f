package dispatch

import (
	"context"
	"log/slog"
	"time"

	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

// CalculateStoreCounts recomputes the store-count bounds of every line item from the run's
// parameter snapshot. Re-running it overwrites previous bounds with the same values.
func (s *Service) CalculateStoreCounts(ctx context.Context, input CalculateInput) (result CalculateResult, err error) {
	if err := checkContext(ctx); err != nil {
		return CalculateResult{}, err
	}

	run, status, err := s.loadRun(ctx, input.RunID)
	if err != nil {
		return CalculateResult{}, err
	}
	if err := requireStatus(run.RunID, status, "calculate store counts",
		domaindispatch.StatusManifestLoaded,
		domaindispatch.StatusStoreCountsCalculated,
	); err != nil {
		return CalculateResult{}, err
	}

	params := domaindispatch.Parameters{
		MinReferenceQuantity: run.MinReferenceQuantity,
		MinEanQuantity:       run.MinEanQuantity,
	}
	if err := params.Validate(); err != nil {
		return CalculateResult{}, err
	}

	logCtx := logging.WithRun(ctx, "dispatch.calculate", run.RunID, StageCalculate)
	started := time.Now()
	defer func() { s.observe(StageCalculate, started, err) }()

	items, err := s.runs.ListLineItems(ctx, run.RunID)
	if err != nil {
		return CalculateResult{}, errs.WithKind(errs.Wrap(err, "load line items"), errs.KindPersistence)
	}

	inputs := make([]domaindispatch.BoundInput, 0, len(items))
	for _, item := range items {
		inputs = append(inputs, domaindispatch.BoundInput{
			LineItemID: item.LineItemID,
			ProductID:  item.ProductID,
			Reference:  item.Reference,
			Quantity:   item.Quantity,
		})
	}
	bounds, err := domaindispatch.ComputeBounds(inputs, params)
	if err != nil {
		return CalculateResult{}, err
	}

	result = CalculateResult{RunID: run.RunID, Parameters: params}
	total := len(bounds)
	counted := 0
	for i, bound := range bounds {
		if i%s.batchSize == 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, s.failCalculate(logCtx, input.Progress, run.RunID, result.Processed, total, ctxErr)
			}
		}

		if updateErr := s.runs.UpdateLineItemBounds(ctx, ports.LineItemBounds{
			LineItemID:           bound.LineItemID,
			MaxStoresByReference: bound.MaxStoresByReference,
			MaxStoresByEan:       bound.MaxStoresByEan,
			MaxStoresFinal:       bound.MaxStoresFinal,
		}); updateErr != nil {
			return result, s.failCalculate(logCtx, input.Progress, run.RunID, result.Processed, total, updateErr)
		}
		result.Processed++

		if result.Processed%s.batchSize == 0 || result.Processed == total {
			s.countItems(StageCalculate, result.Processed-counted)
			counted = result.Processed
			s.reportProgress(ctx, input.Progress, Progress{
				RunID:     run.RunID,
				Stage:     StageCalculate,
				Processed: result.Processed,
				Total:     total,
			})
		}
	}

	if err := s.updateStatus(ctx, run.RunID, status, domaindispatch.StatusStoreCountsCalculated); err != nil {
		return result, err
	}
	s.announce(ctx, run.RunID, status, domaindispatch.StatusStoreCountsCalculated, run.CreatedBy)
	s.reportProgress(ctx, input.Progress, Progress{
		RunID:     run.RunID,
		Stage:     StageCalculate,
		Processed: result.Processed,
		Total:     total,
		Done:      true,
	})

	logging.Info(logCtx, "store counts calculated",
		slog.Int("line_items", result.Processed),
		slog.Int("min_reference_quantity", params.MinReferenceQuantity),
		slog.Int("min_ean_quantity", params.MinEanQuantity),
	)
	return result, nil
}

func (s *Service) failCalculate(ctx context.Context, callback ProgressFunc, runID string, processed int, total int, cause error) error {
	partial := &domaindispatch.PartialError{
		Stage:     StageCalculate,
		Processed: processed,
		Total:     total,
		Err:       cause,
	}
	s.reportProgress(ctx, callback, Progress{
		RunID:     runID,
		Stage:     StageCalculate,
		Processed: processed,
		Total:     total,
		Error:     partial.Error(),
	})
	logging.Error(ctx, "store count calculation stopped", slog.Any("err", errs.Loggable(partial)))
	return partial
}
