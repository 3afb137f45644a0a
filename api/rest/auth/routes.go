package auth

import (
	"github.com/gin-gonic/gin"

	"github.com/codeloom/collab-server/internal/auth"
	"github.com/codeloom/collab-server/internal/storage"
)

func RegisterRoutes(router *gin.RouterGroup, userRepo *storage.UserRepository) {
	authGroup := router.Group("/auth")
	{
		authGroup.GET("/:provider", BeginAuthHandler())
		authGroup.GET("/:provider/callback", CallbackHandler(userRepo))
		authGroup.POST("/logout", LogoutHandler())
		authGroup.GET("/me", auth.AuthMiddleware(), GetCurrentUserHandler(userRepo))
		authGroup.PUT("/me", auth.AuthMiddleware(), UpdateProfileHandler(userRepo))
	}
}
