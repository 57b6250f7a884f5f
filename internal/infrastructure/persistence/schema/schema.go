package schema

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/persistence/sqlite/model"
)

// Version is bumped whenever Migrate adds tables or indexes.
const Version = "1"

var ErrNotInitialized = errors.New("database schema is not initialized, run init-db")

type SchemaMeta struct {
	Key       string    `gorm:"column:key;type:text;primaryKey"`
	Value     string    `gorm:"column:value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime"`
}

func (SchemaMeta) TableName() string {
	return "schema_meta"
}

// Models lists every table owned by the pipeline.
func Models() []any {
	return []any{
		&model.DispatchRun{},
		&model.LineItem{},
		&model.ConstraintParameters{},
		&model.AllocationProcedure{},
		&model.Distribution{},
		&model.AllocationRecord{},
		&model.Product{},
		&model.Store{},
		&model.ProgressKV{},
		&SchemaMeta{},
	}
}

// Single active row per settings table. Partial indexes work on both sqlite and postgres.
var activeIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_constraint_parameters_active ON constraint_parameters (status) WHERE status = 'active'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_allocation_procedures_active ON allocation_procedures (status) WHERE status = 'active'`,
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if db == nil {
		return errors.New("database is required")
	}

	tx := db.WithContext(ctx)
	if err := tx.AutoMigrate(Models()...); err != nil {
		return errs.Wrap(err, "auto migrate schema")
	}
	for _, stmt := range activeIndexes {
		if err := tx.Exec(stmt).Error; err != nil {
			return errs.Wrap(err, "create active settings index")
		}
	}

	meta := SchemaMeta{Key: "schema_version", Value: Version}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&meta).Error; err != nil {
		return errs.Wrap(err, "record schema version")
	}
	return nil
}

// Check compares the recorded schema version with Version.
func Check(ctx context.Context, db *gorm.DB) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if db == nil {
		return errors.New("database is required")
	}

	tx := db.WithContext(ctx)
	if !tx.Migrator().HasTable(&SchemaMeta{}) {
		return ErrNotInitialized
	}

	var meta SchemaMeta
	err := tx.Where("key = ?", "schema_version").Take(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotInitialized
	}
	if err != nil {
		return errs.Wrap(err, "read schema version")
	}
	if meta.Value != Version {
		return fmt.Errorf("database schema version %s does not match %s, run init-db", meta.Value, Version)
	}
	return nil
}
