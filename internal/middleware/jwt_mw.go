package middleware

import (
	"context"
	"net/http"
	"strings"

	"jobboard_auth/internal/logging"
	"jobboard_auth/internal/utils"

	"github.com/gin-gonic/gin"
)

const (
	AuthUserKey  = "authUser"
	AuthRoleKey  = "authRole"
	AuthEmailKey = "authEmail"
	AuthTokenKey = "authToken"
)

// TokenValidator checks a bearer token against its signature and persisted state
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
}

// JWTAuthMiddleware creates a middleware for JWT authentication
func JWTAuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		tokenString := parts[1]
		claims, err := validator.ValidateToken(c.Request.Context(), tokenString)
		if err != nil {
			logging.FromContext(c.Request.Context()).Debug("bearer token rejected", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(AuthUserKey, claims.UserID)
		c.Set(AuthRoleKey, claims.Role)
		c.Set(AuthEmailKey, claims.Subject)
		c.Set(AuthTokenKey, tokenString)

		l := logging.FromContext(c.Request.Context()).With("user_id", claims.UserID)
		c.Request = c.Request.WithContext(logging.IntoContext(c.Request.Context(), l))

		c.Next()
	}
}
