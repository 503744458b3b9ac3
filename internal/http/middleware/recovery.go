// README: Recovery middleware.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dropchain/internal/log"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.L(c.Request.Context()).Errorf("panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}
