package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
)

type MarkErrorInput struct {
	RunID  string
	Actor  string
	Reason string
}

type RefreshParametersResult struct {
	Run Run
	// Recalculate is set when the run had bounds from the previous snapshot. They were cleared.
	Recalculate bool
}

// DeleteRun abandons a run that has not been distributed, with its line items and records.
func (s *Service) DeleteRun(ctx context.Context, runID string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	run, status, err := s.loadRun(ctx, runID)
	if err != nil {
		return err
	}
	if !domaindispatch.CanDelete(status) {
		return fmt.Errorf("%w: run %s cannot be deleted", domaindispatch.ErrRunDistributed, run.RunID)
	}
	if _, busy := s.inflight.Load(run.RunID); busy {
		return fmt.Errorf("%w: %s", domaindispatch.ErrAllocationInFlight, run.RunID)
	}

	if err := s.runs.DeleteRun(ctx, run.RunID); err != nil {
		return errs.WithKind(errs.Wrap(err, "delete run"), errs.KindPersistence)
	}
	s.clearProgress(ctx, run.RunID, progressStages...)

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.run")),
		"dispatch run deleted",
		slog.String("run_id", run.RunID),
		slog.String("status", string(status)),
	)
	return nil
}

// MarkError parks a run in the error state. The pipeline never does this on its own.
func (s *Service) MarkError(ctx context.Context, input MarkErrorInput) (Run, error) {
	if err := checkContext(ctx); err != nil {
		return Run{}, err
	}

	run, status, err := s.loadRun(ctx, input.RunID)
	if err != nil {
		return Run{}, err
	}
	if _, busy := s.inflight.Load(run.RunID); busy {
		return Run{}, fmt.Errorf("%w: %s", domaindispatch.ErrAllocationInFlight, run.RunID)
	}
	if err := s.updateStatus(ctx, run.RunID, status, domaindispatch.StatusError); err != nil {
		return Run{}, err
	}
	s.announce(ctx, run.RunID, status, domaindispatch.StatusError, input.Actor)

	logging.Warn(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.run")),
		"dispatch run marked as error",
		slog.String("run_id", run.RunID),
		slog.String("from", string(status)),
		slog.String("reason", strings.TrimSpace(input.Reason)),
	)

	run.Status = string(domaindispatch.StatusError)
	return toRun(run), nil
}

// RefreshParameters re-snapshots the active parameters onto a run that has not been allocated.
// A calculated run loses its bounds and goes back to manifest-loaded, so it cannot be allocated
// until the calculator has run against the new snapshot.
func (s *Service) RefreshParameters(ctx context.Context, runID string) (RefreshParametersResult, error) {
	if err := checkContext(ctx); err != nil {
		return RefreshParametersResult{}, err
	}
	if s.uow == nil {
		return RefreshParametersResult{}, errors.New("unit of work is required")
	}

	run, status, err := s.loadRun(ctx, runID)
	if err != nil {
		return RefreshParametersResult{}, err
	}
	if err := requireStatus(run.RunID, status, "refresh parameters",
		domaindispatch.StatusDraft,
		domaindispatch.StatusManifestLoaded,
		domaindispatch.StatusStoreCountsCalculated,
	); err != nil {
		return RefreshParametersResult{}, err
	}
	if _, busy := s.inflight.Load(run.RunID); busy {
		return RefreshParametersResult{}, fmt.Errorf("%w: %s", domaindispatch.ErrAllocationInFlight, run.RunID)
	}

	params, err := s.activeParameters(ctx)
	if err != nil {
		return RefreshParametersResult{}, err
	}

	recalculate := status == domaindispatch.StatusStoreCountsCalculated
	next := status
	if recalculate {
		next = domaindispatch.StatusManifestLoaded
	}
	now := s.nowString()
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.runs.SetRunParameters(txCtx, run.RunID, params, now); err != nil {
			return errs.WithKind(errs.Wrap(err, "refresh run parameters"), errs.KindPersistence)
		}
		if !recalculate {
			return nil
		}
		if _, err := s.runs.ClearLineItemBounds(txCtx, run.RunID); err != nil {
			return errs.WithKind(errs.Wrap(err, "clear store counts"), errs.KindPersistence)
		}
		return s.updateStatus(txCtx, run.RunID, status, next)
	}); err != nil {
		return RefreshParametersResult{}, err
	}
	if recalculate {
		s.clearProgress(ctx, run.RunID, StageCalculate)
		s.announce(ctx, run.RunID, status, next, run.CreatedBy)
	}

	parametersID := params.ParametersID
	run.ParametersID = &parametersID
	run.MinReferenceQuantity = params.MinReferenceQuantity
	run.MinEanQuantity = params.MinEanQuantity
	run.Status = string(next)
	run.UpdatedAt = now
	return RefreshParametersResult{
		Run:         toRun(run),
		Recalculate: recalculate,
	}, nil
}

// DiscardLineItems removes what a failed ingest left on a draft run so the manifest can be loaded again.
func (s *Service) DiscardLineItems(ctx context.Context, runID string) (int64, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}

	run, status, err := s.loadRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	if err := requireStatus(run.RunID, status, "discard line items", domaindispatch.StatusDraft); err != nil {
		return 0, err
	}

	removed, err := s.runs.DeleteLineItems(ctx, run.RunID)
	if err != nil {
		return 0, errs.WithKind(errs.Wrap(err, "discard line items"), errs.KindPersistence)
	}
	s.clearProgress(ctx, run.RunID, StageIngest)
	return removed, nil
}

func (s *Service) clearProgress(ctx context.Context, runID string, stages ...string) {
	if s.progress == nil {
		return
	}
	for _, stage := range stages {
		if err := s.progress.Delete(ctx, progressKey(runID, stage)); err != nil {
			logging.Warn(
				logging.WithAttrs(ctx, slog.String("component", "dispatch.progress")),
				"clear progress failed",
				slog.Any("err", errs.Loggable(err)),
				slog.String("run_id", runID),
				slog.String("stage", stage),
			)
		}
	}
}
