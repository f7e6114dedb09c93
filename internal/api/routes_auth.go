package api

import (
	"github.com/gin-gonic/gin"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/handlers"
)

type authRouteDeps struct {
	AuthHandler *handlers.AuthHandler
}

func registerAuthRoutes(public, protected *gin.RouterGroup, deps authRouteDeps) {
	auth := public.Group("/auth")
	{
		auth.POST("/register", deps.AuthHandler.Register)
		auth.POST("/login", deps.AuthHandler.Login)
		auth.POST("/refresh", deps.AuthHandler.Refresh)
	}

	protected.GET("/auth/me", deps.AuthHandler.Me)
	protected.POST("/auth/logout", deps.AuthHandler.Logout)
	protected.POST("/auth/logout-all", deps.AuthHandler.LogoutAll)
}
