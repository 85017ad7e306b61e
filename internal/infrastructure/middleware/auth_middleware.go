package middleware

import (
	"net/http"
	"strings"
	"time"

	"zonecast/internal/core/domain"
	"zonecast/internal/core/services"
	"zonecast/pkg/cache"

	"github.com/gin-gonic/gin"
)

// tokenCacheTTL is deliberately much shorter than the token lifetime so
// a cached verdict can never outlive the token it belongs to.
const tokenCacheTTL = time.Minute

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	validated := cache.New[domain.UserID](tokenCacheTTL)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}
		token := parts[1]

		if userID, ok := validated.Get(token); ok {
			c.Set("user_id", userID)
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		validated.Set(token, claims.UserID)
		c.Set("user_id", claims.UserID)
		c.Next()
	}
}
