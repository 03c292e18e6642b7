package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports liveness and the number of open pages.
func Health(pages *PageHandlers) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"pages":  pages.Count(),
		})
	}
}
