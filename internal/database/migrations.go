package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_backups",
		Up: `
-- Backup records, position keeps the registry order (oldest first)
CREATE TABLE backups (
    id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    file_path TEXT NOT NULL,
    created_at TEXT NOT NULL,
    actor TEXT NOT NULL,
    remark TEXT NOT NULL DEFAULT '',
    size TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_backups_position ON backups(position);

-- Single row holding the orchestrator counters
CREATE TABLE orchestrator_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    auto_backup_elapsed_seconds INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`,
		Down: `
DROP TABLE IF EXISTS orchestrator_state;
DROP TABLE IF EXISTS backups;
`,
	},
	{
		Version: "002_activity_log",
		Up: `
CREATE TABLE activity_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    activity_type TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    metadata TEXT,
    success BOOLEAN NOT NULL DEFAULT 1,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX idx_activity_log_type ON activity_log(activity_type);
CREATE INDEX idx_activity_log_timestamp ON activity_log(timestamp);
`,
		Down: `
DROP TABLE IF EXISTS activity_log;
`,
	},
}
