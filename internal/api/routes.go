package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TheGojiOG/saveload/internal/api/handlers"
	"github.com/TheGojiOG/saveload/internal/api/middleware"
	"github.com/TheGojiOG/saveload/internal/auth"
	"github.com/TheGojiOG/saveload/internal/config"
	"github.com/TheGojiOG/saveload/internal/permissions"
	"github.com/TheGojiOG/saveload/internal/websocket"
)

// SetupRouter configures and returns the HTTP router
func SetupRouter(
	cfg *config.Config,
	service handlers.Service,
	activity handlers.ActivitySource,
	perms permissions.Provider,
	jwtManager *auth.JWTManager,
	hub *websocket.Hub,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(cfg.API.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	backupHandler := handlers.NewBackupHandler(service)
	// a command may run a full backup, which the archive timeout bounds
	commandHandler := handlers.NewCommandHandler(service, perms, cfg.Saveload.CommandPrefix, cfg.ArchiveTimeout())
	activityHandler := handlers.NewActivityHandler(activity)
	eventHandler := handlers.NewEventHandler(hub, cfg.API.AllowedOrigins)

	protected := router.Group("/api/v1")
	protected.Use(middleware.Auth(jwtManager))
	protected.Use(middleware.RateLimit(cfg.API.RateLimitPerMinute))
	{
		protected.GET("/backups", backupHandler.ListBackups)
		protected.GET("/restore", backupHandler.GetRestoreStatus)
		protected.POST("/commands", commandHandler.SubmitCommand)
		protected.GET("/activity", activityHandler.ListActivity)

		// WebSocket clients pass the token as ?token=
		protected.GET("/events", eventHandler.HandleEvents)
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
