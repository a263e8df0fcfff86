package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/saveload/internal/api/middleware"
	"github.com/TheGojiOG/saveload/internal/orchestrator"
	"github.com/TheGojiOG/saveload/internal/permissions"
)

// CommandRequest is a saveload command, with or without the chat prefix,
// e.g. "restore last" or "!sl backup \"before the update\""
type CommandRequest struct {
	Command string `json:"command" binding:"required"`
}

// CommandHandler runs chat commands on behalf of token holders
type CommandHandler struct {
	service Service
	perms   permissions.Provider
	prefix  string
	timeout time.Duration
}

// NewCommandHandler creates a command handler. timeout bounds how long a
// request waits, which must cover a full backup. A token without the
// operator claim is privileged when perms says its actor is; perms may be nil.
func NewCommandHandler(service Service, perms permissions.Provider, prefix string, timeout time.Duration) *CommandHandler {
	return &CommandHandler{service: service, perms: perms, prefix: prefix, timeout: timeout}
}

// SubmitCommand runs one command and returns its replies
// POST /api/v1/commands
func (h *CommandHandler) SubmitCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	text := strings.TrimSpace(req.Command)
	if text != h.prefix && !strings.HasPrefix(text, h.prefix+" ") {
		text = h.prefix + " " + text
	}

	actor := c.GetString(middleware.ContextActor)
	privileged := c.GetBool(middleware.ContextOperator)
	if !privileged && h.perms != nil {
		privileged = h.perms.IsPrivileged(actor)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	replies, err := h.service.Submit(ctx, actor, privileged, text)
	if replies == nil {
		replies = []orchestrator.Reply{}
	}
	if err != nil {
		status := commandStatus(err)
		if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
			log.Printf("[API] Command %q from %s failed: %v", text, actor, err)
		}
		c.JSON(status, gin.H{"error": commandMessage(err), "replies": replies})
		return
	}

	c.JSON(http.StatusOK, gin.H{"replies": replies})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownCommand):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrInvalidTarget):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrRestoreInProgress):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func commandMessage(err error) string {
	var cmdErr *orchestrator.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Message
	}
	return err.Error()
}
