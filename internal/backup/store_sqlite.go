package backup

import (
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteStore keeps the state in the backups and orchestrator_state tables
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on a migrated database
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load reads all records in registry order
func (s *SQLiteStore) Load() (*State, error) {
	rows, err := s.db.Query(`
		SELECT id, file_path, created_at, actor, remark, size, size_bytes
		FROM backups
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query backups: %w", err)
	}
	defer rows.Close()

	state := &State{Backups: []BackupRecord{}}
	for rows.Next() {
		var record BackupRecord
		if err := rows.Scan(
			&record.ID,
			&record.FilePath,
			&record.CreatedAt,
			&record.Actor,
			&record.Remark,
			&record.Size,
			&record.SizeBytes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		state.Backups = append(state.Backups, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read backups: %w", err)
	}

	err = s.db.QueryRow(`SELECT auto_backup_elapsed_seconds FROM orchestrator_state WHERE id = 1`).
		Scan(&state.AutoBackupElapsedSeconds)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read orchestrator state: %w", err)
	}

	return state, nil
}

// Save replaces the stored state in one transaction
func (s *SQLiteStore) Save(state *State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM backups`); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear backups: %w", err)
	}

	for position, record := range state.Backups {
		if _, err := tx.Exec(`
			INSERT INTO backups (id, position, file_path, created_at, actor, remark, size, size_bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			record.ID,
			position,
			record.FilePath,
			record.CreatedAt,
			record.Actor,
			record.Remark,
			record.Size,
			record.SizeBytes,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert backup %s: %w", record.ID, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO orchestrator_state (id, auto_backup_elapsed_seconds, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			auto_backup_elapsed_seconds = excluded.auto_backup_elapsed_seconds,
			updated_at = CURRENT_TIMESTAMP
	`, state.AutoBackupElapsedSeconds); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update orchestrator state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}
