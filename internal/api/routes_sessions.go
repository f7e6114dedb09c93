package api

import (
	"github.com/gin-gonic/gin"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/handlers"
)

func registerSessionRoutes(api *gin.RouterGroup, handler *handlers.SessionHandler) {
	api.GET("/sessions/me", handler.ListMySessions)
	api.POST("/sessions/revoke/:id", handler.Revoke)
}
