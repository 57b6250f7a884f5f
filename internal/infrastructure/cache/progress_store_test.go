package cache

import (
	"context"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"stockdispatch/internal/infrastructure/persistence/sqlite/model"
)

func setupProgressStore(t *testing.T) *ProgressStore {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "progress.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.ProgressKV{}); err != nil {
		t.Fatalf("auto migrate progress_kv: %v", err)
	}
	return NewProgressStore(db)
}

func TestProgressStoreSetGetDelete(t *testing.T) {
	store := setupProgressStore(t)
	ctx := context.Background()
	key := "progress:run-1"

	if err := store.Set(ctx, key, `{"stage":"ingest","processed":100,"total":250}`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, key, `{"stage":"ingest","processed":200,"total":250}`); err != nil {
		t.Fatalf("Set(update) error = %v", err)
	}

	value, found, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || value != `{"stage":"ingest","processed":200,"total":250}` {
		t.Fatalf("Get() = %q, found=%v", value, found)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, found, err := store.Get(ctx, key); err != nil || found {
		t.Fatalf("Get() after delete found=%v err=%v", found, err)
	}
}

func TestProgressStoreRejectsEmptyKey(t *testing.T) {
	store := setupProgressStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, " ", "v"); err == nil {
		t.Fatalf("Set() expected error for empty key")
	}
	if _, _, err := store.Get(ctx, ""); err == nil {
		t.Fatalf("Get() expected error for empty key")
	}
	if err := store.Delete(ctx, ""); err == nil {
		t.Fatalf("Delete() expected error for empty key")
	}
}

func TestProgressStoreHonoursCancelledContext(t *testing.T) {
	store := setupProgressStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, "progress:run-1", "v"); err == nil {
		t.Fatalf("Set() expected error for cancelled context")
	}
}
