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

// PayloadValidator checks the kind specific payload of a procedure before it is stored.
type PayloadValidator func(domaindispatch.Procedure) error

type SyncProceduresInput struct {
	Procedures []domaindispatch.Procedure
	// Active names the procedure to activate after the sync. Empty keeps the current one.
	Active string
}

type ProcedureView struct {
	Name      string
	Kind      string
	Payload   string
	Active    bool
	UpdatedAt string
}

// SyncProcedures upserts procedures by name. Runs keep the procedure snapshot they were created with.
func (s *Service) SyncProcedures(ctx context.Context, input SyncProceduresInput) ([]ProcedureView, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if s.settings == nil || s.uow == nil {
		return nil, errors.New("settings repository and unit of work are required")
	}

	seen := make(map[string]struct{}, len(input.Procedures))
	for _, procedure := range input.Procedures {
		if err := procedure.Validate(); err != nil {
			return nil, err
		}
		if s.validatePayload != nil {
			if err := s.validatePayload(procedure); err != nil {
				return nil, err
			}
		}
		name := strings.TrimSpace(procedure.Name)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate procedure %q", domaindispatch.ErrInvalidProcedure, name)
		}
		seen[name] = struct{}{}
	}

	now := s.nowString()
	active := strings.TrimSpace(input.Active)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		for _, procedure := range input.Procedures {
			if _, err := s.settings.UpsertProcedure(txCtx, ports.AllocationProcedure{
				Name:      strings.TrimSpace(procedure.Name),
				Kind:      string(procedure.Kind),
				Payload:   string(procedure.Payload),
				Status:    ports.SettingStatusArchived,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		if active == "" {
			return nil
		}
		return s.settings.ActivateProcedure(txCtx, active, now)
	}); err != nil {
		if errors.Is(err, ports.ErrProcedureNotFound) {
			return nil, errs.WithKind(fmt.Errorf("%w: %s", err, active), errs.KindInput)
		}
		return nil, errs.WithKind(errs.Wrap(err, "sync procedures"), errs.KindPersistence)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.settings")),
		"allocation procedures synced",
		slog.Int("procedures", len(input.Procedures)),
		slog.String("active", active),
	)
	return s.ListProcedures(ctx)
}

func (s *Service) ActivateProcedure(ctx context.Context, name string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if s.settings == nil {
		return errors.New("settings repository is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: procedure name is required", domaindispatch.ErrInvalidProcedure)
	}

	err := s.settings.ActivateProcedure(ctx, name, s.nowString())
	if errors.Is(err, ports.ErrProcedureNotFound) {
		return errs.WithKind(fmt.Errorf("%w: %s", err, name), errs.KindInput)
	}
	if err != nil {
		return errs.WithKind(errs.Wrap(err, "activate procedure"), errs.KindPersistence)
	}

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "dispatch.settings")),
		"allocation procedure activated",
		slog.String("procedure", name),
	)
	return nil
}

func (s *Service) ListProcedures(ctx context.Context) ([]ProcedureView, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if s.settings == nil {
		return nil, errors.New("settings repository is required")
	}

	rows, err := s.settings.ListProcedures(ctx)
	if err != nil {
		return nil, errs.WithKind(err, errs.KindPersistence)
	}
	out := make([]ProcedureView, 0, len(rows))
	for _, row := range rows {
		out = append(out, ProcedureView{
			Name:      row.Name,
			Kind:      row.Kind,
			Payload:   row.Payload,
			Active:    row.Status == ports.SettingStatusActive,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return out, nil
}
