package middleware

import (
	"time"

	"catalogsync/internal/logger"

	"github.com/gin-gonic/gin"
)

// Logger writes one line per request through the application logger.
// Server errors log at error level, client errors at warn.
func Logger(logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		log := logger.
			With("status", status).
			With("latency", time.Since(start).String()).
			With("ip", c.ClientIP())
		if owner := OwnerID(c); owner != "" {
			log = log.With("owner", owner)
		}

		switch {
		case status >= 500:
			log.Error("%s %s %s", c.Request.Method, path, c.Errors.ByType(gin.ErrorTypePrivate).String())
		case status >= 400:
			log.Warn("%s %s", c.Request.Method, path)
		default:
			log.Info("%s %s", c.Request.Method, path)
		}
	}
}
