package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// CacheControl lets the candidate's browser reuse a response for
// maxAgeSeconds. Responses are per token, so shared caches must not keep them.
func CacheControl(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}

// NoStore marks responses that change on every request, like live progress.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
