package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"stockdispatch/internal/bootstrap/config"
)

func TestSQLiteDSN(t *testing.T) {
	testCases := []struct {
		name string
		dsn  string
		want string
	}{
		{name: "plain path", dsn: "data/sd.sqlite", want: "data/sd.sqlite?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		{name: "existing query", dsn: "file:sd.sqlite?cache=shared", want: "file:sd.sqlite?cache=shared&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		{name: "caller pragmas kept", dsn: "sd.sqlite?_pragma=journal_mode(WAL)", want: "sd.sqlite?_pragma=journal_mode(WAL)"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := SQLiteDSN(testCase.dsn); got != testCase.want {
				t.Fatalf("SQLiteDSN(%q) = %q, want %q", testCase.dsn, got, testCase.want)
			}
		})
	}
}

func TestSQLiteFilePath(t *testing.T) {
	testCases := map[string]string{
		":memory:":                     "",
		"file::memory:?cache=shared":   "",
		"file:data/sd.sqlite?mode=rwc": "data/sd.sqlite",
		" .data/sd.sqlite ":            ".data/sd.sqlite",
	}
	for dsn, want := range testCases {
		if got := sqliteFilePath(dsn); got != want {
			t.Fatalf("sqliteFilePath(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpenSQLiteCreatesDirectoryAndWaitsOnLocks(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "sd.sqlite")

	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	if _, err := os.Stat(filepath.Dir(dsn)); err != nil {
		t.Fatalf("sqlite directory missing: %v", err)
	}
	var timeout int
	if err := db.Raw("PRAGMA busy_timeout").Scan(&timeout).Error; err != nil {
		t.Fatalf("read pragma: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("max open connections = %d, want 1", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("Open() error = nil, want unsupported driver")
	}
}
