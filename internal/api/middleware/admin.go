package middleware

import (
	"github.com/gin-gonic/gin"

	"cvesentinel.io/sentinel/internal/auth"
)

const ctxKeyAdmin = "admin_identity"

// RequireAdmin gates a route on the caller holding every listed admin
// permission. The resolved identity is stored for audit logging.
func RequireAdmin(guard *auth.Guard, perms ...auth.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := guard.RequireAdmin(c.Request.Context(), CallerFrom(c), perms...)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(ctxKeyAdmin, id)
		c.Next()
	}
}

// AdminFrom returns the identity stored by RequireAdmin.
func AdminFrom(c *gin.Context) (*auth.AdminIdentity, bool) {
	v, ok := c.Get(ctxKeyAdmin)
	if !ok {
		return nil, false
	}
	id, ok := v.(*auth.AdminIdentity)
	return id, ok
}
