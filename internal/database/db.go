package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB is the saveload state database: backup records, the auto-backup
// counter and the activity log
type DB struct {
	*sql.DB
	path string
}

// NewDB opens the state database at dbPath without migrating it
func NewDB(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn, err := stateDSN(dbPath)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// single writer: registry rewrites and activity inserts share one connection
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", dbPath, err)
	}

	return &DB{DB: conn, path: dbPath}, nil
}

// Open opens the state database and applies pending migrations
func Open(dbPath string) (*DB, error) {
	db, err := NewDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return db, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

func stateDSN(dbPath string) (string, error) {
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve database path: %w", err)
	}
	absPath = filepath.ToSlash(absPath)

	pragmas := []string{
		"busy_timeout(5000)",
		"journal_mode(WAL)",
		// the registry rewrite is one transaction; FULL keeps it across power loss
		"synchronous(FULL)",
	}
	params := make([]string, 0, len(pragmas))
	for _, p := range pragmas {
		params = append(params, "_pragma="+p)
	}
	return "file:" + absPath + "?" + strings.Join(params, "&"), nil
}

// Migrate applies every migration that is not recorded yet, each in its own
// transaction
func (db *DB) Migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	pending, err := db.Pending()
	if err != nil {
		return err
	}

	for _, m := range pending {
		if err := db.apply(m); err != nil {
			return err
		}
		log.Printf("[Database] Applied migration: %s", m.Version)
	}
	return nil
}

// Pending lists the migrations not applied to this database, in order
func (db *DB) Pending() ([]Migration, error) {
	applied, err := db.Applied()
	if err != nil {
		return nil, err
	}

	var pending []Migration
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Applied returns the set of recorded migration versions
func (db *DB) Applied() (map[string]bool, error) {
	rows, err := db.Query("SELECT version FROM migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (db *DB) apply(m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.Up); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
	}
	return nil
}
