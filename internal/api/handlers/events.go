package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/TheGojiOG/saveload/internal/api/middleware"
	ws "github.com/TheGojiOG/saveload/internal/websocket"
)

// EventHandler streams orchestrator announcements over WebSocket
type EventHandler struct {
	hub            *ws.Hub
	allowedOrigins []string
}

// NewEventHandler creates a new event handler
func NewEventHandler(hub *ws.Hub, allowedOrigins []string) *EventHandler {
	return &EventHandler{hub: hub, allowedOrigins: allowedOrigins}
}

// HandleEvents upgrades the connection and subscribes it to the feed
// GET /api/v1/events
func (h *EventHandler) HandleEvents(c *gin.Context) {
	upgrader := buildUpgrader(h.allowedOrigins)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[API] Failed to upgrade WebSocket: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	client := &ws.Client{
		ID:    uuid.New().String(),
		Actor: c.GetString(middleware.ContextActor),
		Conn:  conn,
		Send:  make(chan *ws.Message, 256),
		Hub:   h.hub,
	}
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.IsOriginAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}
