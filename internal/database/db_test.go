package database

import (
	"path/filepath"
	"testing"
)

func TestOpenAppliesMigrations(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "saveload", "saveload.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()

	if db.Path() != dbPath {
		t.Fatalf("expected path %s, got %s", dbPath, db.Path())
	}

	applied, err := db.Applied()
	if err != nil {
		t.Fatalf("failed to read applied migrations: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Fatalf("expected %d migrations, got %d", len(migrations), len(applied))
	}

	for _, table := range []string{"backups", "orchestrator_state", "activity_log"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	pending, err := db.Pending()
	if err != nil {
		t.Fatalf("failed to list pending migrations: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending migrations, got %d", len(pending))
	}
}

func TestNewDBLeavesSchemaPending(t *testing.T) {
	db, err := NewDB(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE migrations (version TEXT PRIMARY KEY, applied_at DATETIME NOT NULL)`); err != nil {
		t.Fatalf("failed to create migrations table: %v", err)
	}
	pending, err := db.Pending()
	if err != nil {
		t.Fatalf("failed to list pending migrations: %v", err)
	}
	if len(pending) != len(migrations) || pending[0].Version != "001_backups" {
		t.Fatalf("unexpected pending migrations: %+v", pending)
	}
}
