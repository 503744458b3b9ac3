// README: Auth middleware; verifies Firebase ID tokens and exposes the caller's uid and role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dropchain/internal/infra"
	"dropchain/internal/log"
	"dropchain/internal/types"
)

const (
	ctxKeyUID  = "caller_uid"
	ctxKeyRole = "caller_role"
)

// Auth rejects requests without a valid bearer token. The role comes from the
// token's "role" custom claim.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			log.L(c.Request.Context()).WithError(err).Debug("id token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		role, _ := token.Claims["role"].(string)
		// Arbitration acts only from inside the engine.
		if types.Role(role) == types.RoleArbitration {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not allowed over http"})
			return
		}
		c.Set(ctxKeyUID, token.UID)
		c.Set(ctxKeyRole, role)
		ctx := log.WithLogField(c.Request.Context(), "caller", token.UID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxKeyUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxKeyRole)
}
