package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockdispatch/internal/errs"
	"stockdispatch/internal/infrastructure/persistence/sqlite/model"
	"stockdispatch/internal/ports"
)

// ProgressStore keeps the latest progress snapshot per key in the progress_kv table,
// so a separate process (the HTTP server) can observe a long-running CLI stage.
type ProgressStore struct {
	db *gorm.DB
}

var _ ports.ProgressStore = (*ProgressStore)(nil)

func NewProgressStore(db *gorm.DB) *ProgressStore {
	return &ProgressStore{db: db}
}

func (s *ProgressStore) Get(ctx context.Context, key string) (string, bool, error) {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return "", false, err
	}

	var row model.ProgressKV
	if err := s.db.WithContext(ctx).Where("key = ?", trimmedKey).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, errs.Wrap(err, "query progress by key")
	}
	return row.Value, true, nil
}

func (s *ProgressStore) Set(ctx context.Context, key string, value string) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	row := model.ProgressKV{
		Key:       trimmedKey,
		Value:     value,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      row.Value,
			"updated_at": row.UpdatedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert progress key")
	}
	return nil
}

func (s *ProgressStore) Delete(ctx context.Context, key string) error {
	trimmedKey, err := checkKey(ctx, key)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Where("key = ?", trimmedKey).Delete(&model.ProgressKV{}).Error; err != nil {
		return errs.Wrap(err, "delete progress key")
	}
	return nil
}

func checkKey(ctx context.Context, key string) (string, error) {
	if ctx == nil {
		return "", errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(err, "check context")
	}

	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", errors.New("key is required")
	}
	return trimmed, nil
}
