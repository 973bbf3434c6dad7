package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-lms/internal/logger"
)

const (
	ContextKeyRequestID = logger.RequestIDKey
	headerRequestID     = "X-Request-ID"
	maxRequestIDLen     = 64
)

// RequestIDMiddleware tags every request with an ID, reusing the caller's
// X-Request-ID when it is well formed.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(headerRequestID)
		if !validRequestID(reqID) {
			reqID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header(headerRequestID, reqID)
		c.Next()
	}
}

// RequestID returns the request's ID, minting one when the middleware did
// not run (WebSocket upgrades written after hijack, tests).
func RequestID(c *gin.Context) string {
	if id := c.GetString(ContextKeyRequestID); id != "" {
		return id
	}
	id := uuid.NewString()
	c.Set(ContextKeyRequestID, id)
	return id
}

// validRequestID accepts short IDs made of letters, digits, '-', '_' and '.'
// so client input cannot inject into log lines.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
