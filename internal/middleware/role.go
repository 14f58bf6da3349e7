package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/civicpulse/backend/internal/models"
	"github.com/civicpulse/backend/pkg/response"
)

// RequireRole allows the listed roles through. Admins pass every role check.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := map[models.Role]bool{models.RoleAdmin: true}
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		role, ok := Role(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if !allowed[role] {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
