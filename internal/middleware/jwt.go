package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exam-runner/internal/response"
	"github.com/stemsi/exam-runner/internal/service"
)

const (
	// ContextKeyAttempt is the Gin context key for attempt token claims.
	ContextKeyAttempt = "attempt"
)

// RequireAttemptToken validates the attempt token from the Authorization
// header or, for WebSocket upgrades, the ?token= query parameter.
func RequireAttemptToken(attempts *service.AttemptService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := attempts.Parse(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeyAttempt, claims)
		c.Next()
	}
}

// CheckAttemptOwner rejects tokens rotated out by a later start of the same
// attempt. Must run after RequireAttemptToken.
func CheckAttemptOwner(attempts *service.AttemptService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetAttemptClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		err := attempts.ValidateOwner(c.Request.Context(), claims)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, service.ErrAttemptSuperseded):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
		default:
			_ = c.Error(err)
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
		}
	}
}

// GetAttemptClaims retrieves the attempt claims from the Gin context.
func GetAttemptClaims(c *gin.Context) *service.AttemptClaims {
	val, exists := c.Get(ContextKeyAttempt)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.AttemptClaims)
	if !ok {
		return nil
	}
	return claims
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	// Browsers cannot set headers on a WebSocket handshake.
	return c.Query("token")
}
