package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/api"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/app"
	iauth "github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/auth"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/cache"
	sharedtestutil "github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/database/testutil"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/handlers"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/middleware"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/models"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/response"
)

// Clock is a manually advanced time source shared by every component of an Env.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// Now returns the current test time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T           *testing.T
	DB          *gorm.DB
	Router      *gin.Engine
	Clock       *Clock
	Volatile    *cache.MemoryStore
	Issuer      *iauth.TokenIssuer
	Sessions    *iauth.SessionService
	Credentials *iauth.LocalCredentials
}

// EnvOption customises NewEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	healthChecks map[string]handlers.HealthCheck
	rateLimit    app.RateLimitConfig
}

// WithHealthCheck registers a dependency check on /health.
func WithHealthCheck(name string, check handlers.HealthCheck) EnvOption {
	return func(cfg *envConfig) {
		if cfg.healthChecks == nil {
			cfg.healthChecks = make(map[string]handlers.HealthCheck)
		}
		cfg.healthChecks[name] = check
	}
}

// WithRateLimit overrides the request budget applied by the router.
func WithRateLimit(requests int, window time.Duration) EnvOption {
	return func(cfg *envConfig) {
		cfg.rateLimit = app.RateLimitConfig{Requests: requests, Window: window}
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	options := envConfig{rateLimit: app.RateLimitConfig{Requests: 1000, Window: time.Minute}}
	for _, opt := range opts {
		opt(&options)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())
	clock := &Clock{current: time.Now().UTC().Truncate(time.Second)}

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				AccessSecret:  "handler-suite-access-secret",
				RefreshSecret: "handler-suite-refresh-secret",
				Issuer:        "handler-suite",
				AccessTTL:     15 * time.Minute,
				RefreshTTL:    7 * 24 * time.Hour,
			},
			Session: app.SessionSettings{
				CacheTTL:     15 * time.Minute,
				CacheTimeout: 100 * time.Millisecond,
			},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
		RateLimit: options.rateLimit,
	}

	issuer, err := iauth.NewTokenIssuer(cfg.Auth.TokenIssuerConfig(clock.Now))
	require.NoError(t, err)

	store, err := iauth.NewSessionStore(db, cfg.Auth.SessionStoreConfig(clock.Now))
	require.NoError(t, err)

	volatile := cache.NewMemoryStore(cache.WithMemoryClock(clock.Now))
	sessionCache, err := iauth.NewSessionCache(volatile, cfg.Auth.SessionCacheConfig())
	require.NoError(t, err)

	gate, err := iauth.NewGate(issuer, store, sessionCache, cfg.Auth.GateConfig())
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(issuer, store, sessionCache, cfg.Auth.SessionServiceConfig(clock.Now))
	require.NoError(t, err)

	credentials, err := iauth.NewLocalCredentials(db, clock.Now)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		Config:       cfg,
		Gate:         gate,
		Sessions:     sessions,
		Credentials:  credentials,
		RateStore:    middleware.NewMemoryRateStore(),
		HealthChecks: options.healthChecks,
	})
	require.NoError(t, err)

	return &Env{
		T:           t,
		DB:          db,
		Router:      router,
		Clock:       clock,
		Volatile:    volatile,
		Issuer:      issuer,
		Sessions:    sessions,
		Credentials: credentials,
	}
}

// CreateUser registers a new active user with a random email and returns the record.
func (e *Env) CreateUser(password string) *models.User {
	e.T.Helper()

	user, err := e.Credentials.Register(context.Background(), iauth.RegisterInput{
		Name:     "Test User",
		Email:    "user-" + uuid.NewString() + "@example.com",
		Password: password,
	})
	require.NoError(e.T, err)
	return user
}

// TokenPair mirrors the handler token payload.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	Tokens    TokenPair   `json:"tokens"`
	SessionID string      `json:"session_id"`
	User      UserPayload `json:"user"`
}

// Login authenticates using local credentials and returns the issued token pair.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	payload := map[string]string{
		"email":    email,
		"password": password,
	}

	w := e.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.NotEmpty(e.T, result.Tokens.RefreshToken)
	require.NotEmpty(e.T, result.SessionID)
	require.Equal(e.T, email, result.User.Email)

	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
