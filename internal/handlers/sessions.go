package handlers

import (
	stdErrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/auth"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/middleware"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/errors"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/response"
)

type SessionHandler struct {
	sessions *iauth.SessionService
}

func NewSessionHandler(sessions *iauth.SessionService) (*SessionHandler, error) {
	if sessions == nil {
		return nil, stdErrors.New("session handler: session service is required")
	}
	return &SessionHandler{sessions: sessions}, nil
}

type sessionPayload struct {
	ID        string    `json:"id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Current   bool      `json:"current"`
}

// GET /api/sessions/me
func (h *SessionHandler) ListMySessions(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	sessions, err := h.sessions.ListSessions(requestContext(c), principal.UserID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	payload := make([]sessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payload = append(payload, sessionPayload{
			ID:        session.ID,
			IPAddress: session.IPAddress,
			UserAgent: session.UserAgent,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
			ExpiresAt: session.ExpiresAt,
			Current:   session.ID == principal.SessionID,
		})
	}
	response.Success(c, http.StatusOK, payload)
}

// POST /api/sessions/revoke/:id
func (h *SessionHandler) Revoke(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	sessionID := strings.TrimSpace(c.Param("id"))
	if sessionID == "" {
		response.Error(c, errors.NewBadRequest("session id is required"))
		return
	}

	if err := h.sessions.RevokeSessionByID(requestContext(c), principal.UserID, sessionID); err != nil {
		if stdErrors.Is(err, iauth.ErrSessionNotFound) {
			response.Error(c, errors.ErrNotFound)
			return
		}
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}
