package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/kidguard-api/internal/models"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
	"github.com/noah-isme/kidguard-api/pkg/response"
)

// RequireRoles admits approved callers holding one of roles. With no roles any
// approved caller passes.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		decision := models.CheckAccess(roles, claims.Role, claims.Approved)
		if !decision.Allowed {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, decision.Reason))
			c.Abort()
			return
		}
		c.Next()
	}
}
