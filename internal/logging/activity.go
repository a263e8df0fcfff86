package logging

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ActivityLogger records backup and restore activity for operators to audit
type ActivityLogger struct {
	db          *sql.DB
	logDir      string
	currentFile *os.File
	currentDate string
	now         func() time.Time
	mu          sync.Mutex
}

// Activity represents a logged activity
type Activity struct {
	Timestamp    time.Time              `json:"timestamp"`
	Actor        string                 `json:"actor"`
	ActivityType string                 `json:"activity_type"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// Activity type constants
const (
	ActivityBackupCreate    = "backup.create"
	ActivityBackupEvict     = "backup.evict"
	ActivityRestoreRequest  = "restore.request"
	ActivityRestoreConfirm  = "restore.confirm"
	ActivityRestoreCancel   = "restore.cancel"
	ActivityRestoreExpire   = "restore.expire"
	ActivityRestoreComplete = "restore.complete"
	ActivityRestoreFailed   = "restore.failed"
	ActivityError           = "error"
)

// NewActivityLogger creates a new activity logger. db may be nil, in which case
// activities only go to the daily JSONL files.
func NewActivityLogger(db *sql.DB, logDir string) (*ActivityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	log.Printf("[ActivityLogger] Initialized (log directory: %s)", logDir)

	return &ActivityLogger{
		db:     db,
		logDir: logDir,
		now:    time.Now,
	}, nil
}

// LogActivity logs an activity to both database and file
func (al *ActivityLogger) LogActivity(activity *Activity) error {
	if al == nil {
		return nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if activity.Timestamp.IsZero() {
		activity.Timestamp = al.now()
	}

	if err := al.logToDatabase(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to database: %v", err)
	}

	if err := al.logToFile(activity); err != nil {
		log.Printf("[ActivityLogger] Error logging to file: %v", err)
		return err
	}

	return nil
}

// Record is a shorthand for the common success/failure entry
func (al *ActivityLogger) Record(actor, activityType, description string, metadata map[string]interface{}, err error) {
	activity := &Activity{
		Actor:        actor,
		ActivityType: activityType,
		Description:  description,
		Metadata:     metadata,
		Success:      err == nil,
	}
	if err != nil {
		activity.ErrorMessage = err.Error()
	}
	_ = al.LogActivity(activity)
}

// ErrNoDatabase is returned by queries when activities only go to files
var ErrNoDatabase = errors.New("activity database not configured")

// ActivityQuery filters Recent. Zero values match everything.
type ActivityQuery struct {
	Type  string
	Actor string
	Limit int
}

// Recent returns matching activities, newest first
func (al *ActivityLogger) Recent(q ActivityQuery) ([]*Activity, error) {
	if al == nil || al.db == nil {
		return nil, ErrNoDatabase
	}

	var (
		where []string
		args  []interface{}
	)
	if q.Type != "" {
		where = append(where, "activity_type = ?")
		args = append(args, q.Type)
	}
	if q.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, q.Actor)
	}

	query := "SELECT timestamp, actor, activity_type, description, metadata, success, error_message FROM activity_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := al.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	activities := make([]*Activity, 0)
	for rows.Next() {
		var (
			activity Activity
			metadata sql.NullString
		)
		if err := rows.Scan(&activity.Timestamp, &activity.Actor, &activity.ActivityType,
			&activity.Description, &metadata, &activity.Success, &activity.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &activity.Metadata); err != nil {
				log.Printf("[ActivityLogger] Ignoring bad metadata on %s: %v", activity.ActivityType, err)
			}
		}
		activities = append(activities, &activity)
	}

	return activities, rows.Err()
}

func (al *ActivityLogger) logToDatabase(activity *Activity) error {
	if al.db == nil {
		return nil
	}

	metadataJSON, err := json.Marshal(activity.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = al.db.Exec(`
		INSERT INTO activity_log (
			timestamp, actor, activity_type, description, metadata, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		activity.Timestamp,
		activity.Actor,
		activity.ActivityType,
		activity.Description,
		string(metadataJSON),
		activity.Success,
		activity.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity: %w", err)
	}

	return nil
}

// logToFile appends the activity as a JSON line to the file of the current day
func (al *ActivityLogger) logToFile(activity *Activity) error {
	currentDate := activity.Timestamp.Format("2006-01-02")

	if al.currentFile == nil || al.currentDate != currentDate {
		if err := al.rotateLogFile(currentDate); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	line, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	if _, err := fmt.Fprintf(al.currentFile, "%s\n", line); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	// restore outcomes must survive a crash right after the swap
	if activity.ActivityType == ActivityRestoreComplete ||
		activity.ActivityType == ActivityRestoreFailed ||
		activity.ActivityType == ActivityError {
		al.currentFile.Sync()
	}

	return nil
}

func (al *ActivityLogger) rotateLogFile(date string) error {
	if al.currentFile != nil {
		al.currentFile.Close()
		al.currentFile = nil
	}

	logPath := filepath.Join(al.logDir, fmt.Sprintf("activity-%s.log", date))

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	al.currentFile = file
	al.currentDate = date

	log.Printf("[ActivityLogger] Rotated log file to: %s", logPath)
	return nil
}

// Close closes the activity logger
func (al *ActivityLogger) Close() error {
	if al == nil {
		return nil
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	if al.currentFile != nil {
		err := al.currentFile.Close()
		al.currentFile = nil
		return err
	}

	return nil
}

// Prune deletes database activities older than maxAge and returns how many
// were removed. Daily files are left to the operator.
func (al *ActivityLogger) Prune(maxAge time.Duration) (int64, error) {
	if al == nil || al.db == nil {
		return 0, ErrNoDatabase
	}

	result, err := al.db.Exec(`DELETE FROM activity_log WHERE timestamp < ?`, al.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune activities: %w", err)
	}

	removed, _ := result.RowsAffected()
	if removed > 0 {
		log.Printf("[ActivityLogger] Pruned %d activities older than %v", removed, maxAge)
	}
	return removed, nil
}
