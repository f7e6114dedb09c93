package api

import (
	"github.com/gin-gonic/gin"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/handlers"
)

func registerHealthRoutes(r *gin.Engine, checks map[string]handlers.HealthCheck) {
	health := handlers.Health(checks)
	r.GET("/health", health)
	r.GET("/api/health", health)
}
