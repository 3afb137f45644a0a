package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/codeloom/collab-server/internal/collab"
	ws "github.com/codeloom/collab-server/internal/websocket"
)

// RegisterRoutes mounts the upgrade endpoint under router (spec.md §4.1).
func RegisterRoutes(router *gin.RouterGroup, hub *collab.Hub, store collab.Store, tracker *ws.ConnTracker, cfg GatewayConfig) {
	router.GET("/ws", WebSocketHandler(hub, store, tracker, cfg))
}
