package handlers

import (
	"errors"
	"net/http"

	"catalogsync/internal/database"
	"catalogsync/internal/logger"
	"catalogsync/internal/services/syncmanager"
	"catalogsync/internal/validation"

	"github.com/gin-gonic/gin"
)

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// failWith maps err onto the envelope. Unknown errors are logged and hidden
// behind a generic message built from what.
func failWith(c *gin.Context, logger *logger.Logger, what string, err error) {
	if verr, ok := validation.Fields(err); ok {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": verr.Error(), "fields": verr.Fields})
		return
	}

	switch {
	case errors.Is(err, database.ErrNotFound):
		fail(c, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrDuplicate):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, syncmanager.ErrNoConnection):
		fail(c, http.StatusBadRequest, err.Error())
	default:
		logger.Error("Failed to %s: %v", what, err)
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "failed to "+what)
	}
}

// bind decodes the JSON body into dst and answers 400 when it cannot.
func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		if verr, ok := validation.Fields(err); ok {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": verr.Error(), "fields": verr.Fields})
			return false
		}
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
