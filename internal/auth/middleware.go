package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenLockIn/internal/types"
	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// AuthMiddleware validates bearer tokens and stores the caller's identity.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_001", "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_002", "invalid authorization header format", nil))
			return
		}

		identity, err := a.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				types.NewErrorResponse("AUTH_003", "invalid or expired token", nil))
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("AUTH_004", "no permissions found", nil))
			return
		}

		if !identity.Has(required) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				types.NewErrorResponse("AUTH_005", "insufficient permissions", map[string]string{
					"required": string(required),
				}))
			return
		}

		c.Next()
	}
}

// GetIdentity extracts the caller identity set by AuthMiddleware.
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, exists := c.Get(identityKey)
	if !exists {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	return identity, ok
}
