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
	"stockdispatch/internal/ports"
)

const defaultActor = "system"

// CreateRun registers a draft run and snapshots the active parameters and procedure onto it.
func (s *Service) CreateRun(ctx context.Context, input CreateRunInput) (Run, error) {
	if err := checkContext(ctx); err != nil {
		return Run{}, err
	}
	if s.runs == nil || s.settings == nil {
		return Run{}, errors.New("dispatch and settings repositories are required")
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Run{}, domaindispatch.ErrRunNameRequired
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		actor = defaultActor
	}

	params, err := s.activeParameters(ctx)
	if err != nil {
		return Run{}, err
	}
	procedure, err := s.settings.GetActiveProcedure(ctx)
	if err != nil {
		if errors.Is(err, ports.ErrProcedureNotFound) {
			return Run{}, domaindispatch.ErrNoActiveProcedure
		}
		return Run{}, errs.WithKind(errs.Wrap(err, "load active procedure"), errs.KindPersistence)
	}

	now := s.nowString()
	parametersID := params.ParametersID
	created, err := s.runs.CreateRun(ctx, ports.DispatchRun{
		RunID:                s.newID(),
		Name:                 name,
		Status:               string(domaindispatch.StatusDraft),
		ParametersID:         &parametersID,
		MinReferenceQuantity: params.MinReferenceQuantity,
		MinEanQuantity:       params.MinEanQuantity,
		ProcedureName:        procedure.Name,
		ProcedureKind:        procedure.Kind,
		ProcedurePayload:     procedure.Payload,
		CreatedBy:            actor,
		CreatedAt:            now,
		UpdatedAt:            now,
	})
	if err != nil {
		return Run{}, errs.WithKind(errs.Wrap(err, "create run"), errs.KindPersistence)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.run")),
		"dispatch run created",
		slog.String("run_id", created.RunID),
		slog.String("procedure", procedure.Name),
		slog.Uint64("parameters_id", params.ParametersID),
	)
	return toRun(created), nil
}

func (s *Service) activeParameters(ctx context.Context) (ports.ConstraintParameters, error) {
	params, err := s.settings.GetActiveParameters(ctx)
	if err != nil {
		if errors.Is(err, ports.ErrParametersNotFound) {
			return ports.ConstraintParameters{}, domaindispatch.ErrNoActiveParameters
		}
		return ports.ConstraintParameters{}, errs.WithKind(errs.Wrap(err, "load active parameters"), errs.KindPersistence)
	}

	snapshot := domaindispatch.Parameters{
		MinReferenceQuantity: params.MinReferenceQuantity,
		MinEanQuantity:       params.MinEanQuantity,
	}
	if err := snapshot.Validate(); err != nil {
		return ports.ConstraintParameters{}, fmt.Errorf("active parameters %d: %w", params.ParametersID, err)
	}
	return params, nil
}
