package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// ImmutableFiles marks stored answer files as cacheable by the student's
// browser only. File names are random UUIDs, so content never changes under
// a name and revalidation is pointless.
func ImmutableFiles(maxAge time.Duration) gin.HandlerFunc {
	value := fmt.Sprintf("private, max-age=%d, immutable", int(maxAge.Seconds()))
	return func(c *gin.Context) {
		c.Header("Cache-Control", value)
		c.Next()
	}
}

// NoStore keeps per-student responses (answers, remaining time) out of every cache.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "private, no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
