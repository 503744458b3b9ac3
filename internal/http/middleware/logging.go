// README: Logging middleware; attaches a request-scoped logrus entry and logs each request.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dropchain/internal/log"
)

func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-ID", reqID)
		ctx := log.WithLogField(c.Request.Context(), "req", reqID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		log.L(c.Request.Context()).
			WithField("status", c.Writer.Status()).
			WithField("latency", time.Since(start).String()).
			Infof("%s %s", c.Request.Method, c.FullPath())
	}
}
