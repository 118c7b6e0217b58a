package middleware

import (
	"net/http"
	"strings"

	"github.com/amrrdev/keygen/internal/jwt"
	"github.com/gin-gonic/gin"
)

type AuthMiddleware struct {
	jwtService *jwt.Service
}

// NewAuthMiddleware returns nil when jwtService is nil; a nil middleware lets
// every request through.
func NewAuthMiddleware(jwtService *jwt.Service) *AuthMiddleware {
	if jwtService == nil {
		return nil
	}
	return &AuthMiddleware{
		jwtService: jwtService,
	}
}

// RequireAuth validates the bearer token and stores the client id in the
// gin context.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization format. Use: Bearer <token>",
			})
			return
		}

		claims, err := m.jwtService.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		c.Set(clientIDKey, claims.ClientID)
		c.Next()
	}
}
