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

func (s *Service) loadRun(ctx context.Context, runID string) (ports.DispatchRun, domaindispatch.Status, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return ports.DispatchRun{}, "", domaindispatch.ErrRunIDRequired
	}
	if s.runs == nil {
		return ports.DispatchRun{}, "", errors.New("dispatch repository is required")
	}

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, ports.ErrRunNotFound) {
			return ports.DispatchRun{}, "", errs.WithKind(fmt.Errorf("%w: %s", err, runID), errs.KindInput)
		}
		return ports.DispatchRun{}, "", errs.WithKind(errs.Wrap(err, "load run"), errs.KindPersistence)
	}

	status, err := domaindispatch.ParseStatus(run.Status)
	if err != nil {
		return ports.DispatchRun{}, "", err
	}
	return run, status, nil
}

// requireStatus rejects an operation whose run is not in one of the allowed statuses.
func requireStatus(runID string, current domaindispatch.Status, operation string, allowed ...domaindispatch.Status) error {
	for _, status := range allowed {
		if current == status {
			return nil
		}
	}
	if current == domaindispatch.StatusDistributed {
		return fmt.Errorf("%w: run %s", domaindispatch.ErrRunDistributed, runID)
	}
	return fmt.Errorf("%w: run %s is %s, %s not allowed", domaindispatch.ErrInvalidTransition, runID, current, operation)
}

// updateStatus applies a validated transition with a compare-and-swap on the stored status.
func (s *Service) updateStatus(ctx context.Context, runID string, from domaindispatch.Status, to domaindispatch.Status) error {
	if err := domaindispatch.ValidateTransition(from, to); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	if from == to {
		return nil
	}

	err := s.runs.UpdateRunStatus(ctx, runID, string(from), string(to), s.nowString())
	if errors.Is(err, ports.ErrRunStatusConflict) {
		return fmt.Errorf("%w: run %s changed status concurrently", domaindispatch.ErrInvalidTransition, runID)
	}
	if err != nil {
		return errs.WithKind(errs.Wrap(err, "update run status"), errs.KindPersistence)
	}
	return nil
}

// announce publishes a committed transition. Broker failures are logged, never returned.
func (s *Service) announce(ctx context.Context, runID string, from domaindispatch.Status, to domaindispatch.Status, actor string) {
	if s.events == nil || from == to {
		return
	}

	event := ports.RunEvent{
		RunID:      runID,
		FromStatus: string(from),
		ToStatus:   string(to),
		Actor:      strings.TrimSpace(actor),
		OccurredAt: s.nowString(),
	}
	if err := s.events.PublishRunEvent(ctx, event); err != nil {
		logging.Warn(
			logging.WithAttrs(ctx, slog.String("component", "dispatch.events")),
			"publish run event failed",
			slog.Any("err", errs.Loggable(err)),
			slog.String("run_id", runID),
			slog.String("to", string(to)),
		)
	}
}

func progressKey(runID string, stage string) string {
	return "run:" + runID + ":" + stage
}

// reportProgress notifies the caller and stores the checkpoint for out-of-process readers.
func (s *Service) reportProgress(ctx context.Context, callback ProgressFunc, progress Progress) {
	if progress.Total > 0 {
		progress.Percent = (progress.Processed*100 + progress.Total/2) / progress.Total
	} else if progress.Done {
		progress.Percent = 100
	}
	progress.UpdatedAt = s.nowString()

	if callback != nil {
		callback(progress)
	}
	if s.progress == nil {
		return
	}

	raw, err := json.Marshal(progress)
	if err != nil {
		return
	}
	if err := s.progress.Set(ctx, progressKey(progress.RunID, progress.Stage), string(raw)); err != nil {
		logging.Warn(
			logging.WithAttrs(ctx, slog.String("component", "dispatch.progress")),
			"store progress failed",
			slog.Any("err", errs.Loggable(err)),
			slog.String("run_id", progress.RunID),
			slog.String("stage", progress.Stage),
		)
	}
}

func (s *Service) observe(stage string, started time.Time, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.ObserveStage(stage, outcome(err), time.Since(started))
}

func (s *Service) countItems(stage string, n int) {
	if s.recorder == nil {
		return
	}
	s.recorder.AddItems(stage, n)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := errs.KindOf(err); kind != errs.KindUnknown {
		return string(kind)
	}
	return "error"
}

func toRun(run ports.DispatchRun) Run {
	out := Run{
		RunID:  run.RunID,
		Name:   run.Name,
		Status: domaindispatch.Status(run.Status),
		Parameters: domaindispatch.Parameters{
			MinReferenceQuantity: run.MinReferenceQuantity,
			MinEanQuantity:       run.MinEanQuantity,
		},
		Procedure: ProcedureSnapshot{
			Name:    run.ProcedureName,
			Kind:    run.ProcedureKind,
			Payload: run.ProcedurePayload,
		},
		CreatedBy: run.CreatedBy,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if run.ParametersID != nil {
		out.ParametersID = *run.ParametersID
	}
	if run.DistributionID != nil {
		out.DistributionID = *run.DistributionID
	}
	return out
}
