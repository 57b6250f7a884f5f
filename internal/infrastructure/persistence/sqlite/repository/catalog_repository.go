package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/persistence/sqlite/model"
	"stockdispatch/internal/ports"
)

type CatalogRepository struct {
	db *gorm.DB
}

var _ ports.CatalogRepository = (*CatalogRepository)(nil)

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// FindProductIDsByReference matches references exactly. Unknown references are absent from the map.
func (r *CatalogRepository) FindProductIDsByReference(ctx context.Context, references []string) (map[string]uint64, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint64, len(references))
	for _, part := range chunk(references, inListChunkSize) {
		var rows []model.Product
		if err := db.Select("product_id", "reference").Where("reference IN ?", part).Find(&rows).Error; err != nil {
			return nil, errs.Wrap(err, "query products by reference")
		}
		for _, row := range rows {
			out[row.Reference] = row.ProductID
		}
	}
	return out, nil
}

func (r *CatalogRepository) GetProductsByID(ctx context.Context, productIDs []uint64) (map[uint64]ports.Product, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	out := make(map[uint64]ports.Product, len(productIDs))
	for _, part := range chunk(productIDs, inListChunkSize) {
		var rows []model.Product
		if err := db.Where("product_id IN ?", part).Find(&rows).Error; err != nil {
			return nil, errs.Wrap(err, "query products by id")
		}
		for _, row := range rows {
			out[row.ProductID] = ports.Product{
				ProductID:   row.ProductID,
				Reference:   row.Reference,
				Designation: row.Designation,
			}
		}
	}
	return out, nil
}

func (r *CatalogRepository) GetStoresByID(ctx context.Context, storeIDs []uint64) (map[uint64]ports.Store, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	out := make(map[uint64]ports.Store, len(storeIDs))
	for _, part := range chunk(storeIDs, inListChunkSize) {
		var rows []model.Store
		if err := db.Where("store_id IN ?", part).Find(&rows).Error; err != nil {
			return nil, errs.Wrap(err, "query stores by id")
		}
		for _, row := range rows {
			out[row.StoreID] = mapStore(row)
		}
	}
	return out, nil
}

// ListActiveStores orders by weight desc then store code so allocation is deterministic.
func (r *CatalogRepository) ListActiveStores(ctx context.Context) ([]ports.Store, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.Store
	if err := db.Where("is_active = ?", true).
		Order("weight desc").
		Order("store_code asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query active stores")
	}

	items := make([]ports.Store, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapStore(row))
	}
	return items, nil
}

func (r *CatalogRepository) UpsertProducts(ctx context.Context, products []ports.Product) (int, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return 0, err
	}

	rows := make([]model.Product, 0, len(products))
	for _, product := range products {
		reference := strings.TrimSpace(product.Reference)
		if reference == "" {
			continue
		}
		rows = append(rows, model.Product{
			Reference:   reference,
			Designation: strings.TrimSpace(product.Designation),
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reference"}},
		DoUpdates: clause.AssignmentColumns([]string{"designation"}),
	}).CreateInBatches(&rows, inListChunkSize).Error; err != nil {
		return 0, errs.Wrap(err, "upsert products")
	}
	return len(rows), nil
}

func (r *CatalogRepository) UpsertStores(ctx context.Context, stores []ports.Store) (int, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return 0, err
	}

	rows := make([]model.Store, 0, len(stores))
	for _, store := range stores {
		code := strings.TrimSpace(store.StoreCode)
		if code == "" {
			continue
		}
		rows = append(rows, model.Store{
			StoreCode: code,
			Name:      strings.TrimSpace(store.Name),
			Weight:    store.Weight,
			IsActive:  store.IsActive,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	// Select pins is_active so a false value is written instead of the column default.
	if err := db.Select("store_code", "name", "weight", "is_active").Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "weight", "is_active"}),
	}).CreateInBatches(&rows, inListChunkSize).Error; err != nil {
		return 0, errs.Wrap(err, "upsert stores")
	}
	return len(rows), nil
}

func mapStore(row model.Store) ports.Store {
	return ports.Store{
		StoreID:   row.StoreID,
		StoreCode: row.StoreCode,
		Name:      row.Name,
		Weight:    row.Weight,
		IsActive:  row.IsActive,
	}
}
