package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/SaubhagyaSapkota/identity-and-access-management-system/internal/auth"
	"github.com/SaubhagyaSapkota/identity-and-access-management-system/pkg/response"
)

const (
	CtxPrincipalKey = "authPrincipal"
	CtxUserIDKey    = "userID"
	CtxTokenIDKey   = "tokenID"
	CtxSessionIDKey = "sessionID"
)

// Auth authenticates the bearer access token through the gate.
func Auth(gate *iauth.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := gate.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			appErr := iauth.GateAppError(err)
			if appErr.StatusCode == http.StatusUnauthorized {
				c.Header("WWW-Authenticate", "Bearer")
			}
			response.Abort(c, appErr)
			return
		}

		// Propagate identity into request context
		c.Set(CtxPrincipalKey, principal)
		c.Set(CtxUserIDKey, principal.UserID)
		c.Set(CtxTokenIDKey, principal.TokenID)
		if principal.SessionID != "" {
			c.Set(CtxSessionIDKey, principal.SessionID)
		}

		c.Next()
	}
}

// PrincipalFrom returns the principal attached by Auth.
func PrincipalFrom(c *gin.Context) (*iauth.Principal, bool) {
	value, ok := c.Get(CtxPrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*iauth.Principal)
	return principal, ok && principal != nil
}
