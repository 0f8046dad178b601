package response

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKeyRequestID is the Gin context key for the request ID.
const ContextKeyRequestID = "request_id"

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

// Client IDs end up in logs; anything else is replaced.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestIDMiddleware tags every request with an ID, reusing a well-formed
// client-supplied one so proxies and the exam client can correlate logs.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if !validRequestID.MatchString(reqID) {
			reqID = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header(HeaderRequestID, reqID)
		c.Next()
	}
}

// RequestID returns the ID assigned by RequestIDMiddleware, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}
