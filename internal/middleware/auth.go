package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-presence-service/internal/auth"
	"chat-presence-service/internal/session"
)

// AuthMiddleware validates the Authorization header and stores the
// authenticated user id in the request context.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := verifier.VerifyToken(c.Request.Context(), parts[1])
		if err != nil {
			code := "INVALID"
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				code = "EXPIRED"
			case errors.Is(err, auth.ErrTokenRevoked):
				code = "REVOKED"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": code})
			return
		}

		c.Set("userID", identity.UserID)
		c.Next()
	}
}

// SessionChecker evaluates the liveness of a user's application session.
type SessionChecker interface {
	CheckStatus(ctx context.Context, userID int64) session.Status
}

// SessionGuard rejects authenticated actions from expired sessions. Routes
// that themselves perform re-authentication are not guarded.
func SessionGuard(sessions SessionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetInt64("userID")
		status := sessions.CheckStatus(c.Request.Context(), userID)
		if status.RequiresReauth {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "session expired, re-authentication required",
				"code":  "SESSION_EXPIRED",
			})
			return
		}
		c.Next()
	}
}
