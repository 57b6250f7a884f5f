package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/persistence/sqlite/model"
	"stockdispatch/internal/ports"
)

type DispatchRepository struct {
	db *gorm.DB
}

var _ ports.DispatchRepository = (*DispatchRepository)(nil)

func NewDispatchRepository(db *gorm.DB) *DispatchRepository {
	return &DispatchRepository{db: db}
}

func (r *DispatchRepository) CreateRun(ctx context.Context, run ports.DispatchRun) (ports.DispatchRun, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.DispatchRun{}, err
	}

	row := model.DispatchRun{
		RunID:                run.RunID,
		Name:                 run.Name,
		Status:               run.Status,
		ParametersID:         run.ParametersID,
		MinReferenceQuantity: run.MinReferenceQuantity,
		MinEanQuantity:       run.MinEanQuantity,
		ProcedureName:        run.ProcedureName,
		ProcedureKind:        run.ProcedureKind,
		ProcedurePayload:     run.ProcedurePayload,
		DistributionID:       run.DistributionID,
		CreatedBy:            run.CreatedBy,
		CreatedAt:            run.CreatedAt,
		UpdatedAt:            run.UpdatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.DispatchRun{}, errs.Wrap(err, "insert dispatch run")
	}
	return mapRun(row), nil
}

func (r *DispatchRepository) GetRun(ctx context.Context, runID string) (ports.DispatchRun, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.DispatchRun{}, err
	}

	var row model.DispatchRun
	if err := db.Where("run_id = ?", runID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.DispatchRun{}, ports.ErrRunNotFound
		}
		return ports.DispatchRun{}, errs.Wrap(err, "query dispatch run")
	}
	return mapRun(row), nil
}

func (r *DispatchRepository) ListRuns(ctx context.Context, filter ports.RunFilter) ([]ports.DispatchRun, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.DispatchRun{})
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []model.DispatchRun
	if err := query.Order("created_at desc").Order("run_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query dispatch runs")
	}

	items := make([]ports.DispatchRun, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapRun(row))
	}
	return items, nil
}

func (r *DispatchRepository) UpdateRunStatus(ctx context.Context, runID string, from string, to string, updatedAt string) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	result := db.Model(&model.DispatchRun{}).
		Where("run_id = ? AND status = ?", runID, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": updatedAt,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "update dispatch run status")
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetRun(ctx, runID); err != nil {
			return err
		}
		return ports.ErrRunStatusConflict
	}
	return nil
}

func (r *DispatchRepository) SetRunParameters(ctx context.Context, runID string, params ports.ConstraintParameters, updatedAt string) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	parametersID := params.ParametersID
	result := db.Model(&model.DispatchRun{}).
		Where("run_id = ?", runID).
		Updates(map[string]any{
			"parameters_id":          &parametersID,
			"min_reference_quantity": params.MinReferenceQuantity,
			"min_ean_quantity":       params.MinEanQuantity,
			"updated_at":             updatedAt,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "update dispatch run parameters")
	}
	if result.RowsAffected == 0 {
		return ports.ErrRunNotFound
	}
	return nil
}

func (r *DispatchRepository) SetRunDistribution(ctx context.Context, runID string, distributionID string, updatedAt string) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	result := db.Model(&model.DispatchRun{}).
		Where("run_id = ?", runID).
		Updates(map[string]any{
			"distribution_id": distributionID,
			"updated_at":      updatedAt,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "update dispatch run distribution")
	}
	if result.RowsAffected == 0 {
		return ports.ErrRunNotFound
	}
	return nil
}

// DeleteRun removes a run and cascades to its line items, distributions and allocation records.
func (r *DispatchRepository) DeleteRun(ctx context.Context, runID string) error {
	if !ports.InTx(ctx) {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return r.DeleteRun(ports.WithTxContext(ctx, tx), runID)
		})
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	if err := db.Where("run_id = ?", runID).Delete(&model.AllocationRecord{}).Error; err != nil {
		return errs.Wrap(err, "delete allocation records")
	}
	if err := db.Where("run_id = ?", runID).Delete(&model.Distribution{}).Error; err != nil {
		return errs.Wrap(err, "delete distributions")
	}
	if err := db.Where("run_id = ?", runID).Delete(&model.LineItem{}).Error; err != nil {
		return errs.Wrap(err, "delete line items")
	}

	result := db.Where("run_id = ?", runID).Delete(&model.DispatchRun{})
	if result.Error != nil {
		return errs.Wrap(result.Error, "delete dispatch run")
	}
	if result.RowsAffected == 0 {
		return ports.ErrRunNotFound
	}
	return nil
}

func (r *DispatchRepository) InsertLineItems(ctx context.Context, items []ports.LineItemCreate) error {
	if len(items) == 0 {
		return nil
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	rows := make([]model.LineItem, 0, len(items))
	for _, item := range items {
		rows = append(rows, model.LineItem{
			RunID:             item.RunID,
			Reference:         item.Reference,
			ProductID:         item.ProductID,
			EANCode:           item.EANCode,
			Size:              item.Size,
			Quantity:          item.Quantity,
			ExpeditionDate:    item.ExpeditionDate,
			ReferenceNotFound: item.ReferenceNotFound,
		})
	}

	if err := db.Create(&rows).Error; err != nil {
		return errs.Wrap(err, "insert line items")
	}
	return nil
}

func (r *DispatchRepository) CountLineItems(ctx context.Context, runID string) (int64, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&model.LineItem{}).Where("run_id = ?", runID).Count(&count).Error; err != nil {
		return 0, errs.Wrap(err, "count line items")
	}
	return count, nil
}

func (r *DispatchRepository) ListLineItems(ctx context.Context, runID string) ([]ports.LineItem, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.LineItem
	if err := db.Where("run_id = ?", runID).Order("line_item_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query line items")
	}

	items := make([]ports.LineItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.LineItem{
			LineItemID:           row.LineItemID,
			RunID:                row.RunID,
			Reference:            row.Reference,
			ProductID:            row.ProductID,
			EANCode:              row.EANCode,
			Size:                 row.Size,
			Quantity:             row.Quantity,
			ExpeditionDate:       row.ExpeditionDate,
			ReferenceNotFound:    row.ReferenceNotFound,
			MaxStoresByReference: row.MaxStoresByReference,
			MaxStoresByEan:       row.MaxStoresByEan,
			MaxStoresFinal:       row.MaxStoresFinal,
		})
	}
	return items, nil
}

// UpdateLineItemBounds only touches the derived columns; quantity and resolution stay as ingested.
func (r *DispatchRepository) UpdateLineItemBounds(ctx context.Context, bounds ports.LineItemBounds) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	result := db.Model(&model.LineItem{}).
		Where("line_item_id = ?", bounds.LineItemID).
		Updates(map[string]any{
			"max_stores_by_reference": bounds.MaxStoresByReference,
			"max_stores_by_ean":       bounds.MaxStoresByEan,
			"max_stores_final":        bounds.MaxStoresFinal,
		})
	if result.Error != nil {
		return errs.Wrapf(result.Error, "update line item %d bounds", bounds.LineItemID)
	}
	if result.RowsAffected == 0 {
		return errs.Wrapf(gorm.ErrRecordNotFound, "update line item %d bounds", bounds.LineItemID)
	}
	return nil
}

func (r *DispatchRepository) ClearLineItemBounds(ctx context.Context, runID string) (int64, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return 0, err
	}

	result := db.Model(&model.LineItem{}).
		Where("run_id = ?", runID).
		Updates(map[string]any{
			"max_stores_by_reference": gorm.Expr("NULL"),
			"max_stores_by_ean":       gorm.Expr("NULL"),
			"max_stores_final":        gorm.Expr("NULL"),
		})
	if result.Error != nil {
		return 0, errs.Wrap(result.Error, "clear line item bounds")
	}
	return result.RowsAffected, nil
}

func (r *DispatchRepository) DeleteLineItems(ctx context.Context, runID string) (int64, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return 0, err
	}

	result := db.Where("run_id = ?", runID).Delete(&model.LineItem{})
	if result.Error != nil {
		return 0, errs.Wrap(result.Error, "delete line items")
	}
	return result.RowsAffected, nil
}

func (r *DispatchRepository) CreateDistribution(ctx context.Context, distribution ports.Distribution, records []ports.AllocationRecord) error {
	if !ports.InTx(ctx) {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return r.CreateDistribution(ports.WithTxContext(ctx, tx), distribution, records)
		})
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	row := model.Distribution{
		DistributionID: distribution.DistributionID,
		RunID:          distribution.RunID,
		Name:           distribution.Name,
		CreatedBy:      distribution.CreatedBy,
		CreatedAt:      distribution.CreatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert distribution")
	}
	if len(records) == 0 {
		return nil
	}

	recordRows := make([]model.AllocationRecord, 0, len(records))
	for _, record := range records {
		recordRows = append(recordRows, model.AllocationRecord{
			DistributionID:         distribution.DistributionID,
			RunID:                  distribution.RunID,
			ProductID:              record.ProductID,
			StoreID:                record.StoreID,
			EANCode:                record.EANCode,
			Quantity:               record.Quantity,
			MeetsEanCriteria:       record.MeetsEanCriteria,
			MeetsReferenceCriteria: record.MeetsReferenceCriteria,
		})
	}
	if err := db.CreateInBatches(&recordRows, 500).Error; err != nil {
		return errs.Wrap(err, "insert allocation records")
	}
	return nil
}

func (r *DispatchRepository) GetDistribution(ctx context.Context, distributionID string) (ports.Distribution, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.Distribution{}, err
	}

	var row model.Distribution
	if err := db.Where("distribution_id = ?", distributionID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Distribution{}, ports.ErrDistributionNotFound
		}
		return ports.Distribution{}, errs.Wrap(err, "query distribution")
	}
	return ports.Distribution{
		DistributionID: row.DistributionID,
		RunID:          row.RunID,
		Name:           row.Name,
		CreatedBy:      row.CreatedBy,
		CreatedAt:      row.CreatedAt,
	}, nil
}

func (r *DispatchRepository) ListAllocationRecords(ctx context.Context, distributionID string) ([]ports.AllocationRecord, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.AllocationRecord
	if err := db.Where("distribution_id = ?", distributionID).Order("allocation_record_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query allocation records")
	}

	items := make([]ports.AllocationRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.AllocationRecord{
			AllocationRecordID:     row.AllocationRecordID,
			DistributionID:         row.DistributionID,
			RunID:                  row.RunID,
			ProductID:              row.ProductID,
			StoreID:                row.StoreID,
			EANCode:                row.EANCode,
			Quantity:               row.Quantity,
			MeetsEanCriteria:       row.MeetsEanCriteria,
			MeetsReferenceCriteria: row.MeetsReferenceCriteria,
		})
	}
	return items, nil
}

func (r *DispatchRepository) CountAllocationRecords(ctx context.Context, distributionID string) (int64, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := db.Model(&model.AllocationRecord{}).Where("distribution_id = ?", distributionID).Count(&count).Error; err != nil {
		return 0, errs.Wrap(err, "count allocation records")
	}
	return count, nil
}

func mapRun(row model.DispatchRun) ports.DispatchRun {
	return ports.DispatchRun{
		RunID:                row.RunID,
		Name:                 row.Name,
		Status:               row.Status,
		ParametersID:         row.ParametersID,
		MinReferenceQuantity: row.MinReferenceQuantity,
		MinEanQuantity:       row.MinEanQuantity,
		ProcedureName:        row.ProcedureName,
		ProcedureKind:        row.ProcedureKind,
		ProcedurePayload:     row.ProcedurePayload,
		DistributionID:       row.DistributionID,
		CreatedBy:            row.CreatedBy,
		CreatedAt:            row.CreatedAt,
		UpdatedAt:            row.UpdatedAt,
	}
}
