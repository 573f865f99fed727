package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/middleware"
	"github.com/mossy-p/callrelay/internal/relay"
	"github.com/sirupsen/logrus"
)

// Router wires the HTTP API and the signaling websocket around hub
func Router(cfg *config.Config, hub *relay.Hub, logger *logrus.Entry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "online": len(hub.Online())})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret, logger))
		apiGroup.GET("/call-config", GetCallSettings(cfg.Call))
	}

	presenceGroup := apiGroup.Group("/presence")
	if cfg.RequireAuth {
		presenceGroup.Use(middleware.JWTAuth(cfg.JWTSecret))
	}
	{
		presenceGroup.GET("", ListPresence(hub))
		presenceGroup.GET("/:identity", GetPresence(hub))
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal",
			middleware.OptionalJWTAuth(cfg.JWTSecret, cfg.RequireAuth),
			HandleSignaling(hub, logger.WithField("component", "ws")),
		)
	}

	return router
}
