package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/saveload/internal/logging"
)

const maxActivityLimit = 500

// ActivitySource reads the backup and restore audit trail
type ActivitySource interface {
	Recent(q logging.ActivityQuery) ([]*logging.Activity, error)
}

// ActivityHandler serves the activity log
type ActivityHandler struct {
	source ActivitySource
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(source ActivitySource) *ActivityHandler {
	return &ActivityHandler{source: source}
}

// ListActivity returns recent activity, newest first
// GET /api/v1/activity?type=restore.confirm&actor=alice&limit=50
func (h *ActivityHandler) ListActivity(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxActivityLimit)
	}

	activities, err := h.source.Recent(logging.ActivityQuery{
		Type:  c.Query("type"),
		Actor: c.Query("actor"),
		Limit: limit,
	})
	if errors.Is(err, logging.ErrNoDatabase) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Activity history requires the sqlite state driver"})
		return
	}
	if err != nil {
		log.Printf("[API] Failed to read activity: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read activity"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"activities": activities, "count": len(activities)})
}
