package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-lms/internal/response"
	"github.com/stemsi/exstem-lms/internal/service"
)

// CheckSingleDeviceSession rejects tokens whose JTI is no longer the
// student's active login (signed in elsewhere, logged out or reset).
func CheckSingleDeviceSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if checkLoginSession(c, authService, claims) {
			c.Next()
		}
	}
}

// checkLoginSession aborts the request and returns false when the token's
// login session is gone. A Redis outage is a server error, not a logout.
func checkLoginSession(c *gin.Context, authService *service.AuthService, claims *service.Claims) bool {
	err := authService.ValidateStudentSession(c.Request.Context(), claims.UserID, claims.ID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, service.ErrNoActiveSession), errors.Is(err, service.ErrSessionInvalidated):
		response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
	default:
		_ = c.Error(err)
		response.AbortFail(c, http.StatusServiceUnavailable, response.ErrInternal)
	}
	return false
}
