package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

// Allocate hands a calculated run to its snapshotted allocation procedure and, once the
// procedure reports a distribution with records, moves the run to distributed. A failing
// procedure leaves the run in store-counts-calculated so the operator can retry.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (result AllocateResult, err error) {
	if err := checkContext(ctx); err != nil {
		return AllocateResult{}, err
	}
	if s.allocators == nil || s.uow == nil {
		return AllocateResult{}, errors.New("allocator resolver and unit of work are required")
	}

	runID := strings.TrimSpace(input.RunID)
	if runID == "" {
		return AllocateResult{}, domaindispatch.ErrRunIDRequired
	}
	if _, loaded := s.inflight.LoadOrStore(runID, struct{}{}); loaded {
		return AllocateResult{}, fmt.Errorf("%w: %s", domaindispatch.ErrAllocationInFlight, runID)
	}
	defer s.inflight.Delete(runID)

	run, status, err := s.loadRun(ctx, runID)
	if err != nil {
		return AllocateResult{}, err
	}
	if err := requireStatus(run.RunID, status, "allocate", domaindispatch.StatusStoreCountsCalculated); err != nil {
		return AllocateResult{}, err
	}

	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		actor = run.CreatedBy
	}
	logCtx := logging.WithAttrs(
		logging.WithRun(ctx, "dispatch.allocate", run.RunID, StageAllocate),
		slog.String("procedure", run.ProcedureName),
	)
	started := time.Now()
	defer func() { s.observe(StageAllocate, started, err) }()

	ref := ports.AllocationProcedureRef{
		Name: run.ProcedureName,
		Kind: run.ProcedureKind,
	}
	if payload := strings.TrimSpace(run.ProcedurePayload); payload != "" {
		ref.Payload = json.RawMessage(payload)
	}
	allocator, err := s.allocators.Resolve(ref)
	if err != nil {
		return AllocateResult{}, err
	}

	s.reportProgress(ctx, nil, Progress{RunID: run.RunID, Stage: StageAllocate})

	callCtx := ctx
	if s.allocationTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.allocationTimeout)
		defer cancel()
	}
	res, err := allocator.Allocate(callCtx, ports.AllocationRequest{
		RunID:     run.RunID,
		Procedure: ref,
		Actor:     actor,
	})
	if err == nil && callCtx.Err() != nil {
		err = callCtx.Err()
	}
	if err != nil {
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = "allocation procedure timed out"
		}
		return AllocateResult{}, s.failAllocate(logCtx, run.RunID, &domaindispatch.CollaboratorError{
			Collaborator: ref.Name,
			Message:      message,
			Err:          err,
		})
	}
	if !res.Success {
		message := strings.TrimSpace(res.Error)
		if message == "" {
			message = "allocation procedure reported failure"
		}
		return AllocateResult{}, s.failAllocate(logCtx, run.RunID, &domaindispatch.CollaboratorError{
			Collaborator: ref.Name,
			Message:      message,
		})
	}

	records, err := s.checkAllocationResult(ctx, run.RunID, res)
	if err != nil {
		var collab *domaindispatch.CollaboratorError
		if errors.As(err, &collab) {
			collab.Collaborator = ref.Name
			return AllocateResult{}, s.failAllocate(logCtx, run.RunID, collab)
		}
		return AllocateResult{}, err
	}

	distributionID := strings.TrimSpace(res.DistributionID)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.runs.SetRunDistribution(txCtx, run.RunID, distributionID, s.nowString()); err != nil {
			return errs.WithKind(errs.Wrap(err, "link distribution"), errs.KindPersistence)
		}
		return s.updateStatus(txCtx, run.RunID, status, domaindispatch.StatusDistributed)
	}); err != nil {
		return AllocateResult{}, err
	}
	s.announce(ctx, run.RunID, status, domaindispatch.StatusDistributed, actor)
	s.countItems(StageAllocate, int(records))
	s.reportProgress(ctx, nil, Progress{
		RunID:     run.RunID,
		Stage:     StageAllocate,
		Processed: int(records),
		Total:     int(records),
		Done:      true,
	})

	logging.Info(logCtx, "run distributed",
		slog.String("distribution_id", distributionID),
		slog.Int64("records", records),
		slog.Duration("elapsed", time.Since(started)),
	)
	return AllocateResult{RunID: run.RunID, DistributionID: distributionID, Records: records}, nil
}

// checkAllocationResult verifies a successful result names a distribution of this run with records.
func (s *Service) checkAllocationResult(ctx context.Context, runID string, res ports.AllocationResult) (int64, error) {
	distributionID := strings.TrimSpace(res.DistributionID)
	if distributionID == "" {
		return 0, &domaindispatch.CollaboratorError{Message: "procedure reported success without a distribution id"}
	}

	distribution, err := s.runs.GetDistribution(ctx, distributionID)
	if errors.Is(err, ports.ErrDistributionNotFound) {
		return 0, &domaindispatch.CollaboratorError{Message: fmt.Sprintf("distribution %s was not written", distributionID), Err: err}
	}
	if err != nil {
		return 0, errs.WithKind(errs.Wrap(err, "load distribution"), errs.KindPersistence)
	}
	if distribution.RunID != runID {
		return 0, &domaindispatch.CollaboratorError{Message: fmt.Sprintf("distribution %s belongs to run %s", distributionID, distribution.RunID)}
	}

	records, err := s.runs.CountAllocationRecords(ctx, distributionID)
	if err != nil {
		return 0, errs.WithKind(errs.Wrap(err, "count allocation records"), errs.KindPersistence)
	}
	if records == 0 {
		return 0, &domaindispatch.CollaboratorError{Message: fmt.Sprintf("distribution %s has no allocation records", distributionID)}
	}
	return records, nil
}

func (s *Service) failAllocate(ctx context.Context, runID string, cause *domaindispatch.CollaboratorError) error {
	s.reportProgress(ctx, nil, Progress{
		RunID: runID,
		Stage: StageAllocate,
		Error: cause.Error(),
	})
	logging.Error(ctx, "allocation failed", slog.Any("err", errs.Loggable(cause)))
	return cause
}
