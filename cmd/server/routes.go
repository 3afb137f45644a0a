package main

import (
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	restauth "github.com/codeloom/collab-server/api/rest/auth"
	"github.com/codeloom/collab-server/api/rest/health"
	wsapi "github.com/codeloom/collab-server/api/websocket"
)

// sets up all API routes and middleware
func RegisterRoutes(router *gin.Engine, server *Server) {
	router.Use(CORSMiddleware())

	router.GET("/health", health.Handler)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/ping", health.PingHandler)

		restauth.RegisterRoutes(v1, server.userRepo)

		wsapi.RegisterRoutes(v1, server.hub, server.store, server.tracker, wsapi.GatewayConfig{
			OutboundQueueMax: server.config.OutboundQueueMax,
			ReadIdleTimeout:  server.config.ReadIdleTimeout,
		})
	}
}

// CORSMiddleware allows the browser editor (served from a different origin)
// to call the REST stubs and open the WebSocket upgrade. ALLOWED_ORIGINS is
// the same comma-separated env var internal/websocket.CheckOrigin reads for
// the upgrade handshake itself.
func CORSMiddleware() gin.HandlerFunc {
	allowed := strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",")

	return cors.New(cors.Config{
		AllowOrigins:     allowed,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
