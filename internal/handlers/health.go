package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/logger"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck probes a dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Health returns a readiness payload. Each named check runs with a short timeout;
// any failure turns the response into 503.
func Health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))

		for name, check := range checks {
			if check == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(requestContext(c), healthCheckTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "unavailable"
				logger.WithModule("health").Warn("dependency check failed", zap.String("check", name), zap.Error(err))
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{
			"success":    status == http.StatusOK,
			"status":     overall,
			"checks":     results,
			"checked_at": time.Now().UTC(),
		})
	}
}
