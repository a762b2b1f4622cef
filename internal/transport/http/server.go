package http

import (
	"github.com/gin-gonic/gin"

	"docchat/internal/transport/http/handler"
	"docchat/internal/transport/http/middleware"
)

type RouterConfig struct {
	GinMode   string
	JWTSecret string
}

// NewRouter wires all HTTP routes. Session creation and health are open;
// everything else requires a session bearer token.
func NewRouter(
	cfg RouterConfig,
	healthHandler *handler.HealthHandler,
	chatHandler *handler.ChatHandler,
	documentHandler *handler.DocumentHandler,
) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", healthHandler.Check)

	api := r.Group("/api/v1")
	api.POST("/chat/start", chatHandler.StartSession)

	authed := api.Group("")
	authed.Use(middleware.SessionAuth(cfg.JWTSecret))
	{
		authed.POST("/chat/ask", chatHandler.Ask)
		authed.POST("/chat/stream", chatHandler.StreamAsk)
		authed.GET("/chat/history", chatHandler.GetHistory)
		authed.POST("/documents", documentHandler.Upload)
		authed.GET("/documents", documentHandler.List)
	}

	return r
}
