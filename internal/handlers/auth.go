package handlers

import (
	stdErrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/auth"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/middleware"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/models"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/errors"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/logger"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/metrics"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/response"
	appValidator "github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/validator"
)

var errAccountDisabled = errors.New("ACCOUNT_DISABLED", "Account is disabled", http.StatusForbidden)

// AuthHandler manages authentication flows (register/login/refresh/logout/me).
type AuthHandler struct {
	credentials *iauth.LocalCredentials
	sessions    *iauth.SessionService
	log         *zap.Logger
}

func NewAuthHandler(credentials *iauth.LocalCredentials, sessions *iauth.SessionService) (*AuthHandler, error) {
	if credentials == nil {
		return nil, stdErrors.New("auth handler: credentials are required")
	}
	if sessions == nil {
		return nil, stdErrors.New("auth handler: session service is required")
	}
	return &AuthHandler{credentials: credentials, sessions: sessions, log: logger.WithModule("http.auth")}, nil
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=128"`
	Email    string `json:"email" validate:"required,email,max=128"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,jwt"`
}

type tokenResponse struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	TokenType             string    `json:"token_type"`
	ExpiresIn             int       `json:"expires_in"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.credentials.Register(requestContext(c), iauth.RegisterInput{
		Name:     strings.TrimSpace(req.Name),
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if stdErrors.Is(err, iauth.ErrEmailTaken) {
			response.Error(c, errors.New(errors.ErrConflict.Code, "Email is already registered", http.StatusConflict))
			return
		}
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusCreated, userPayload(user))
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	user, err := h.credentials.Authenticate(ctx, iauth.AuthenticateInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		switch {
		case stdErrors.Is(err, iauth.ErrInvalidCredentials):
			response.Error(c, errors.ErrInvalidCredentials)
		case stdErrors.Is(err, iauth.ErrAccountDisabled):
			response.Error(c, errAccountDisabled)
		default:
			h.log.Error("login failed", zap.Error(err))
			response.Error(c, errors.ErrInternalServer.WithInternal(err))
		}
		return
	}

	pair, session, err := h.sessions.CreateSession(ctx, iauth.LoginInput{
		UserID:    user.ID,
		Email:     user.Email,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		h.log.Error("create session failed", zap.String("user_id", user.ID), zap.Error(err))
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"tokens":     tokensOf(pair),
		"session_id": session.ID,
		"user":       userPayload(user),
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	token, ok := h.refreshTokenFrom(c)
	if !ok {
		return
	}

	pair, _, err := h.sessions.RefreshSession(requestContext(c), token)
	if err != nil {
		appErr := iauth.RefreshAppError(err)
		if appErr.StatusCode == http.StatusUnauthorized {
			c.Header("WWW-Authenticate", "Bearer")
		}
		response.Error(c, appErr)
		return
	}

	response.Success(c, http.StatusOK, tokensOf(pair))
}

// refreshTokenFrom reads the refresh token from the JSON body, falling back to the bearer header.
func (h *AuthHandler) refreshTokenFrom(c *gin.Context) (string, bool) {
	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, errors.NewBadRequest("invalid JSON payload"))
			return "", false
		}
		// Malformed tokens get the same answer as any other refresh failure.
		if err := appValidator.ValidateStruct(&req); err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrLoginRequired)
			return "", false
		}
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token, _ = iauth.BearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		response.Error(c, errors.NewBadRequest("refresh token is required"))
		return "", false
	}
	return token, true
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.sessions.RevokeSession(requestContext(c), principal.UserID, principal.TokenID, principal.ExpiresAt); err != nil {
		if stdErrors.Is(err, iauth.ErrSessionNotFound) {
			response.Error(c, errors.ErrSessionNotFound)
			return
		}
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// POST /api/auth/logout-all
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	revoked, err := h.sessions.RevokeUserSessions(requestContext(c), principal.UserID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": len(revoked)})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	payload := gin.H{
		"id":         principal.UserID,
		"email":      principal.Email,
		"session_id": principal.SessionID,
		"expires_at": principal.ExpiresAt,
	}

	user, err := h.credentials.FindUser(requestContext(c), principal.UserID)
	switch {
	case err == nil:
		payload["name"] = user.Name
		payload["is_active"] = user.IsActive
		if payload["email"] == "" {
			payload["email"] = user.Email
		}
	case !stdErrors.Is(err, iauth.ErrInvalidCredentials):
		h.log.Warn("load user profile failed", zap.String("user_id", principal.UserID), zap.Error(err))
	}

	response.Success(c, http.StatusOK, payload)
}

func tokensOf(pair iauth.TokenPair) tokenResponse {
	expiresIn := int(time.Until(pair.AccessTokenExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return tokenResponse{
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		TokenType:             "Bearer",
		ExpiresIn:             expiresIn,
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
	}
}

func userPayload(user *models.User) gin.H {
	return gin.H{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"is_active":     user.IsActive,
		"last_login_at": user.LastLoginAt,
	}
}
