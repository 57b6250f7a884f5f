package dispatch

import (
	"context"
	"encoding/json"
	"strings"

	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

var progressStages = []string{StageIngest, StageCalculate, StageAllocate}

// GetRun returns a run with its record counts and last known stage progress.
func (s *Service) GetRun(ctx context.Context, runID string) (RunDetail, error) {
	if err := checkContext(ctx); err != nil {
		return RunDetail{}, err
	}

	run, _, err := s.loadRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}

	detail := RunDetail{Run: toRun(run)}
	if detail.LineItems, err = s.runs.CountLineItems(ctx, run.RunID); err != nil {
		return RunDetail{}, errs.WithKind(err, errs.KindPersistence)
	}
	if detail.DistributionID != "" {
		if detail.AllocationRecords, err = s.runs.CountAllocationRecords(ctx, detail.DistributionID); err != nil {
			return RunDetail{}, errs.WithKind(err, errs.KindPersistence)
		}
	}
	if detail.Progress, err = s.GetProgress(ctx, run.RunID); err != nil {
		return RunDetail{}, err
	}
	return detail, nil
}

func (s *Service) ListRuns(ctx context.Context, input ListRunsInput) ([]Run, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	status := strings.TrimSpace(input.Status)
	if status != "" {
		parsed, err := domaindispatch.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		status = string(parsed)
	}

	rows, err := s.runs.ListRuns(ctx, ports.RunFilter{Status: status, Limit: input.Limit})
	if err != nil {
		return nil, errs.WithKind(err, errs.KindPersistence)
	}

	out := make([]Run, 0, len(rows))
	for _, row := range rows {
		out = append(out, toRun(row))
	}
	return out, nil
}

// GetProgress returns the stored checkpoints of a run, in pipeline order.
func (s *Service) GetProgress(ctx context.Context, runID string) ([]Progress, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if s.progress == nil {
		return nil, nil
	}

	var out []Progress
	for _, stage := range progressStages {
		raw, found, err := s.progress.Get(ctx, progressKey(runID, stage))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		var progress Progress
		if err := json.Unmarshal([]byte(raw), &progress); err != nil {
			continue
		}
		out = append(out, progress)
	}
	return out, nil
}
