package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/goodtune/kiosktime/internal/storage"
)

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calendar.db")

	db, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_ = db.Close()

	db, err = New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
		t.Fatalf("query migrations: %v", err)
	}
	if version != len(getMigrations()) {
		t.Errorf("Expected version %d, got %d", len(getMigrations()), version)
	}
}

func TestSettings(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "calendar.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.GetSetting(ctx, "location"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := db.SetSetting(ctx, "location", "London"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if err := db.SetSetting(ctx, "location", "Sydney"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}

	value, err := db.GetSetting(ctx, "location")
	if err != nil {
		t.Fatalf("GetSetting failed: %v", err)
	}
	if value != "Sydney" {
		t.Errorf("Expected Sydney, got %s", value)
	}
}
