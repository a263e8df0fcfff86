package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// BackupHandler exposes the backup registry and the restore workflow
type BackupHandler struct {
	service Service
}

// NewBackupHandler creates a new backup handler
func NewBackupHandler(service Service) *BackupHandler {
	return &BackupHandler{service: service}
}

// ListBackups returns every backup, oldest first. The index matches what
// "restore <index>" expects.
// GET /api/v1/backups
func (h *BackupHandler) ListBackups(c *gin.Context) {
	records, err := h.service.Backups(c.Request.Context())
	if err != nil {
		log.Printf("[API] Failed to list backups: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Backup registry unavailable"})
		return
	}

	items := make([]gin.H, 0, len(records))
	var total int64
	for i, record := range records {
		total += record.SizeBytes
		items = append(items, gin.H{
			"index":      i,
			"id":         record.ID,
			"created_at": record.CreatedAt,
			"actor":      record.Actor,
			"remark":     record.Remark,
			"size":       record.Size,
			"size_bytes": record.SizeBytes,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"backups":     items,
		"count":       len(items),
		"total_bytes": total,
	})
}

// GetRestoreStatus returns the restore workflow state
// GET /api/v1/restore
func (h *BackupHandler) GetRestoreStatus(c *gin.Context) {
	status, err := h.service.RestoreStatus(c.Request.Context())
	if err != nil {
		log.Printf("[API] Failed to read restore status: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Restore status unavailable"})
		return
	}
	c.JSON(http.StatusOK, status)
}
