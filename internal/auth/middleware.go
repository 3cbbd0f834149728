package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenTransportCore/internal/types"
)

const (
	permissionsKey = "permissions"
	clientKey      = "client"
)

var allPermissions = []Permission{PermRead, PermOperate, PermConfigure}

// Middleware validates bearer tokens. With auth disabled every request
// gets all permissions.
func (a *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Set(permissionsKey, allPermissions)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization header")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header format")
			return
		}

		claims, permissions, err := a.ValidateToken(parts[1])
		if err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}

		c.Set(permissionsKey, permissions)
		c.Set(clientKey, claims.Client)
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasPermission(c, required) {
			abort(c, http.StatusForbidden, "FORBIDDEN", "insufficient permissions: "+string(required))
			return
		}
		c.Next()
	}
}

// HasPermission reports whether the request carries the permission.
func HasPermission(c *gin.Context, required Permission) bool {
	perms, exists := c.Get(permissionsKey)
	if !exists {
		return false
	}
	permissions, _ := perms.([]Permission)
	for _, p := range permissions {
		if p == required {
			return true
		}
	}
	return false
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, types.NewErrorResponse(code, message, nil))
}
