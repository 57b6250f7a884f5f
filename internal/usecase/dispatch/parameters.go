package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stockdispatch/internal/bootstrap/logging"
	domaindispatch "stockdispatch/internal/domain/dispatch"
	"stockdispatch/internal/errs"
	"stockdispatch/internal/ports"
)

type CreateParametersInput struct {
	MinReferenceQuantity int
	MinEanQuantity       int
	Activate             bool
}

type ParameterSet struct {
	ParametersID uint64
	domaindispatch.Parameters
	Active    bool
	CreatedAt string
	UpdatedAt string
}

// CreateParameters stores a new parameters row. Existing runs keep their own snapshot.
func (s *Service) CreateParameters(ctx context.Context, input CreateParametersInput) (ParameterSet, error) {
	if err := checkContext(ctx); err != nil {
		return ParameterSet{}, err
	}
	if s.settings == nil || s.uow == nil {
		return ParameterSet{}, errors.New("settings repository and unit of work are required")
	}

	params := domaindispatch.Parameters{
		MinReferenceQuantity: input.MinReferenceQuantity,
		MinEanQuantity:       input.MinEanQuantity,
	}
	if err := params.Validate(); err != nil {
		return ParameterSet{}, err
	}

	now := s.nowString()
	var created ports.ConstraintParameters
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		created, err = s.settings.CreateParameters(txCtx, ports.ConstraintParameters{
			MinReferenceQuantity: params.MinReferenceQuantity,
			MinEanQuantity:       params.MinEanQuantity,
			Status:               ports.SettingStatusArchived,
			CreatedAt:            now,
			UpdatedAt:            now,
		})
		if err != nil {
			return err
		}
		if !input.Activate {
			return nil
		}
		if err := s.settings.ActivateParameters(txCtx, created.ParametersID, now); err != nil {
			return err
		}
		created.Status = ports.SettingStatusActive
		return nil
	}); err != nil {
		return ParameterSet{}, errs.WithKind(errs.Wrap(err, "create parameters"), errs.KindPersistence)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.settings")),
		"constraint parameters created",
		slog.Uint64("parameters_id", created.ParametersID),
		slog.Bool("active", input.Activate),
	)
	return toParameterSet(created), nil
}

// ActivateParameters makes one parameters row the active one. Only runs created afterwards see it.
func (s *Service) ActivateParameters(ctx context.Context, parametersID uint64) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if s.settings == nil {
		return errors.New("settings repository is required")
	}

	err := s.settings.ActivateParameters(ctx, parametersID, s.nowString())
	if errors.Is(err, ports.ErrParametersNotFound) {
		return errs.WithKind(fmt.Errorf("%w: %d", err, parametersID), errs.KindInput)
	}
	if err != nil {
		return errs.WithKind(errs.Wrap(err, "activate parameters"), errs.KindPersistence)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.settings")),
		"constraint parameters activated",
		slog.Uint64("parameters_id", parametersID),
	)
	return nil
}

func (s *Service) ListParameters(ctx context.Context) ([]ParameterSet, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if s.settings == nil {
		return nil, errors.New("settings repository is required")
	}

	rows, err := s.settings.ListParameters(ctx)
	if err != nil {
		return nil, errs.WithKind(err, errs.KindPersistence)
	}
	out := make([]ParameterSet, 0, len(rows))
	for _, row := range rows {
		out = append(out, toParameterSet(row))
	}
	return out, nil
}

func toParameterSet(row ports.ConstraintParameters) ParameterSet {
	return ParameterSet{
		ParametersID: row.ParametersID,
		Parameters: domaindispatch.Parameters{
			MinReferenceQuantity: row.MinReferenceQuantity,
			MinEanQuantity:       row.MinEanQuantity,
		},
		Active:    row.Status == ports.SettingStatusActive,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}
