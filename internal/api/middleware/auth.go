package middleware

import (
	"net/http"
	"strings"

	"catalogsync/internal/logger"

	"github.com/gin-gonic/gin"
)

const ownerKey = "owner_id"

// TokenVerifier resolves a bearer token to the owner it belongs to.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// owner id on the context.
func RequireAuth(v TokenVerifier, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing bearer token"})
			return
		}

		ownerID, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			logger.Debug("Rejected token from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid or expired token"})
			return
		}

		c.Set(ownerKey, ownerID)
		c.Next()
	}
}

// OwnerID returns the authenticated owner set by RequireAuth.
func OwnerID(c *gin.Context) string {
	return c.GetString(ownerKey)
}
