package backup

import (
	"github.com/dustin/go-humanize"
)

// TimeLayout is the format of BackupRecord.CreatedAt
const TimeLayout = "2006-01-02 15:04:05"

// archiveNameLayout names archive files, without characters shells dislike
const archiveNameLayout = "2006-01-02_15.04.05"

// BackupRecord describes one archive in the registry
type BackupRecord struct {
	ID        string `json:"id"`
	FilePath  string `json:"file_path"`
	CreatedAt string `json:"created_at"`
	Actor     string `json:"actor"`
	Remark    string `json:"remark"`
	Size      string `json:"size"`
	SizeBytes int64  `json:"size_bytes"`
}

// State is the persisted form of the registry
type State struct {
	Backups                  []BackupRecord `json:"backups"`
	AutoBackupElapsedSeconds int64          `json:"auto_backup_elapsed_seconds"`
}

// HumanSize formats a byte count the way records and messages show it
func HumanSize(sizeBytes int64) string {
	if sizeBytes < 0 {
		sizeBytes = 0
	}
	return humanize.IBytes(uint64(sizeBytes))
}
