package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/app"
	iauth "github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/auth"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/handlers"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/middleware"
)

// Dependencies bundles the services the HTTP surface is built from.
type Dependencies struct {
	Config       *app.Config
	Gate         *iauth.Gate
	Sessions     *iauth.SessionService
	Credentials  *iauth.LocalCredentials
	RateStore    middleware.RateStore
	HealthChecks map[string]handlers.HealthCheck
}

// NewRouter builds the Gin engine, wires middleware and registers core routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("authentication gate must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credentials must be provided")
	}

	cfg := deps.Config
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RateLimit(deps.RateStore, cfg.RateLimit.Requests, cfg.RateLimit.Window))

	registerHealthRoutes(r, deps.HealthChecks)

	authHandler, err := handlers.NewAuthHandler(deps.Credentials, deps.Sessions)
	if err != nil {
		return nil, err
	}
	sessionHandler, err := handlers.NewSessionHandler(deps.Sessions)
	if err != nil {
		return nil, err
	}

	api := r.Group("/api")
	protected := api.Group("")
	protected.Use(middleware.Auth(deps.Gate))

	registerAuthRoutes(api, protected, authRouteDeps{AuthHandler: authHandler})
	registerSessionRoutes(protected, sessionHandler)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
