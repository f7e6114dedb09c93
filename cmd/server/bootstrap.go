package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/api"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/app"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/app/maintenance"
	iauth "github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/auth"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/cache"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/database"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/handlers"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/middleware"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *cache.RedisClient
	Volatile   cache.Store
	SessionSvc *iauth.SessionService
	Cleaner    *maintenance.Cleaner
	RateStore  middleware.RateStore
	Router     *gin.Engine
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Redis, stack.Volatile = initialiseVolatileStore(ctx, cfg, stack.DB, log)

	issuer, err := iauth.NewTokenIssuer(cfg.Auth.TokenIssuerConfig(nil))
	if err != nil {
		return nil, fmt.Errorf("initialise token issuer: %w", err)
	}

	store, err := iauth.NewSessionStore(stack.DB, cfg.Auth.SessionStoreConfig(nil))
	if err != nil {
		return nil, fmt.Errorf("initialise session store: %w", err)
	}

	sessionCache, err := iauth.NewSessionCache(stack.Volatile, cfg.Auth.SessionCacheConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session cache: %w", err)
	}

	gate, err := iauth.NewGate(issuer, store, sessionCache, cfg.Auth.GateConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise authentication gate: %w", err)
	}

	stack.SessionSvc, err = iauth.NewSessionService(issuer, store, sessionCache, cfg.Auth.SessionServiceConfig(nil))
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	credentials, err := iauth.NewLocalCredentials(stack.DB, nil)
	if err != nil {
		return nil, fmt.Errorf("initialise local credentials: %w", err)
	}

	// Expired cache rows only accumulate when the database doubles as the volatile store.
	var cacheDB *gorm.DB
	if stack.Redis == nil {
		cacheDB = stack.DB
	}
	stack.Cleaner = maintenance.NewCleaner(cacheDB, stack.SessionSvc,
		maintenance.WithSessionSchedule(cfg.Auth.Session.CleanupSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.RateStore = middleware.NewCacheRateStore(stack.Volatile)

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:       cfg,
		Gate:         gate,
		Sessions:     stack.SessionSvc,
		Credentials:  credentials,
		RateStore:    stack.RateStore,
		HealthChecks: stack.healthChecks(),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// initialiseVolatileStore prefers Redis and falls back to the database-backed store
// when Redis is disabled or unreachable at startup.
func initialiseVolatileStore(ctx context.Context, cfg *app.Config, db *gorm.DB, log *zap.Logger) (*cache.RedisClient, cache.Store) {
	if cfg.Cache.Redis.Enabled {
		client, err := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if err == nil {
			if err = client.Ping(ctx); err == nil {
				log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
				return client, client
			}
			_ = client.Close()
		}
		log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
	}
	return nil, cache.NewDatabaseStore(db)
}

func (s *runtimeStack) healthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := s.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if s.Redis != nil {
		checks["cache"] = s.Redis.Ping
	}
	return checks
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
