package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/persistence/sqlite/model"
	"stockdispatch/internal/ports"
)

type SettingsRepository struct {
	db *gorm.DB
}

var _ ports.SettingsRepository = (*SettingsRepository)(nil)

func NewSettingsRepository(db *gorm.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

func (r *SettingsRepository) CreateParameters(ctx context.Context, params ports.ConstraintParameters) (ports.ConstraintParameters, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.ConstraintParameters{}, err
	}

	status := strings.TrimSpace(params.Status)
	if status == "" {
		status = ports.SettingStatusArchived
	}
	row := model.ConstraintParameters{
		MinReferenceQuantity: params.MinReferenceQuantity,
		MinEanQuantity:       params.MinEanQuantity,
		Status:               status,
		CreatedAt:            params.CreatedAt,
		UpdatedAt:            params.UpdatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.ConstraintParameters{}, errs.Wrap(err, "insert constraint parameters")
	}
	return mapParameters(row), nil
}

func (r *SettingsRepository) GetParameters(ctx context.Context, parametersID uint64) (ports.ConstraintParameters, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.ConstraintParameters{}, err
	}

	var row model.ConstraintParameters
	if err := db.Where("parameters_id = ?", parametersID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.ConstraintParameters{}, ports.ErrParametersNotFound
		}
		return ports.ConstraintParameters{}, errs.Wrap(err, "query constraint parameters")
	}
	return mapParameters(row), nil
}

func (r *SettingsRepository) GetActiveParameters(ctx context.Context) (ports.ConstraintParameters, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.ConstraintParameters{}, err
	}

	var row model.ConstraintParameters
	if err := db.Where("status = ?", ports.SettingStatusActive).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.ConstraintParameters{}, ports.ErrParametersNotFound
		}
		return ports.ConstraintParameters{}, errs.Wrap(err, "query active constraint parameters")
	}
	return mapParameters(row), nil
}

func (r *SettingsRepository) ListParameters(ctx context.Context) ([]ports.ConstraintParameters, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.ConstraintParameters
	if err := db.Order("parameters_id desc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query constraint parameters")
	}

	items := make([]ports.ConstraintParameters, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapParameters(row))
	}
	return items, nil
}

// ActivateParameters archives the current active row before promoting the target so the
// single-active index never sees two active rows.
func (r *SettingsRepository) ActivateParameters(ctx context.Context, parametersID uint64, updatedAt string) error {
	if !ports.InTx(ctx) {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return r.ActivateParameters(ports.WithTxContext(ctx, tx), parametersID, updatedAt)
		})
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	if _, err := r.GetParameters(ctx, parametersID); err != nil {
		return err
	}

	if err := db.Model(&model.ConstraintParameters{}).
		Where("status = ? AND parameters_id <> ?", ports.SettingStatusActive, parametersID).
		Updates(map[string]any{
			"status":     ports.SettingStatusArchived,
			"updated_at": updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "archive active constraint parameters")
	}

	if err := db.Model(&model.ConstraintParameters{}).
		Where("parameters_id = ?", parametersID).
		Updates(map[string]any{
			"status":     ports.SettingStatusActive,
			"updated_at": updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "activate constraint parameters")
	}
	return nil
}

// UpsertProcedure keys procedures by name. Status is left alone on update.
func (r *SettingsRepository) UpsertProcedure(ctx context.Context, procedure ports.AllocationProcedure) (ports.AllocationProcedure, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.AllocationProcedure{}, err
	}

	name := strings.TrimSpace(procedure.Name)
	if name == "" {
		return ports.AllocationProcedure{}, errors.New("procedure name is required")
	}
	status := strings.TrimSpace(procedure.Status)
	if status == "" {
		status = ports.SettingStatusArchived
	}

	row := model.AllocationProcedure{
		Name:      name,
		Kind:      procedure.Kind,
		Payload:   procedure.Payload,
		Status:    status,
		CreatedAt: procedure.CreatedAt,
		UpdatedAt: procedure.UpdatedAt,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.Assignments(map[string]any{
			"kind":       row.Kind,
			"payload":    row.Payload,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return ports.AllocationProcedure{}, errs.Wrap(err, "upsert allocation procedure")
	}

	var stored model.AllocationProcedure
	if err := db.Where("name = ?", name).Take(&stored).Error; err != nil {
		return ports.AllocationProcedure{}, errs.Wrap(err, "reload allocation procedure")
	}
	return mapProcedure(stored), nil
}

func (r *SettingsRepository) GetActiveProcedure(ctx context.Context) (ports.AllocationProcedure, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.AllocationProcedure{}, err
	}

	var row model.AllocationProcedure
	if err := db.Where("status = ?", ports.SettingStatusActive).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.AllocationProcedure{}, ports.ErrProcedureNotFound
		}
		return ports.AllocationProcedure{}, errs.Wrap(err, "query active allocation procedure")
	}
	return mapProcedure(row), nil
}

func (r *SettingsRepository) ListProcedures(ctx context.Context) ([]ports.AllocationProcedure, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.AllocationProcedure
	if err := db.Order("name asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query allocation procedures")
	}

	items := make([]ports.AllocationProcedure, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapProcedure(row))
	}
	return items, nil
}

func (r *SettingsRepository) ActivateProcedure(ctx context.Context, name string, updatedAt string) error {
	if !ports.InTx(ctx) {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return r.ActivateProcedure(ports.WithTxContext(ctx, tx), name, updatedAt)
		})
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	name = strings.TrimSpace(name)
	var target model.AllocationProcedure
	if err := db.Where("name = ?", name).Take(&target).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.ErrProcedureNotFound
		}
		return errs.Wrap(err, "query allocation procedure")
	}

	if err := db.Model(&model.AllocationProcedure{}).
		Where("status = ? AND procedure_id <> ?", ports.SettingStatusActive, target.ProcedureID).
		Updates(map[string]any{
			"status":     ports.SettingStatusArchived,
			"updated_at": updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "archive active allocation procedure")
	}

	if err := db.Model(&model.AllocationProcedure{}).
		Where("procedure_id = ?", target.ProcedureID).
		Updates(map[string]any{
			"status":     ports.SettingStatusActive,
			"updated_at": updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "activate allocation procedure")
	}
	return nil
}

func mapParameters(row model.ConstraintParameters) ports.ConstraintParameters {
	return ports.ConstraintParameters{
		ParametersID:         row.ParametersID,
		MinReferenceQuantity: row.MinReferenceQuantity,
		MinEanQuantity:       row.MinEanQuantity,
		Status:               row.Status,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
}

func mapProcedure(row model.AllocationProcedure) ports.AllocationProcedure {
	return ports.AllocationProcedure{
		ProcedureID: row.ProcedureID,
		Name:        row.Name,
		Kind:        row.Kind,
		Payload:     row.Payload,
		Status:      row.Status,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
