package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ahmedmanch666/slam/internal/models"
	"github.com/ahmedmanch666/slam/internal/security"
)

const (
	accessClaimsKey = "access_claims"
	currentUserKey  = "current_user"
)

// Auth verifies the bearer access token without touching storage. Role and
// email come from the token and may lag behind the user record.
func Auth(tokens *security.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		claims, err := tokens.VerifyAccess(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		c.Set(accessClaimsKey, *claims)
		c.Set(currentUserKey, models.User{
			ID:    claims.Subject,
			Email: claims.Email,
			Role:  models.UserRole(claims.Role),
		})

		c.Next()
	}
}

func CurrentUser(c *gin.Context) (models.User, bool) {
	userVal, exists := c.Get(currentUserKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := userVal.(models.User)
	return user, ok
}

func AccessClaims(c *gin.Context) (security.AccessClaims, bool) {
	claimsVal, exists := c.Get(accessClaimsKey)
	if !exists {
		return security.AccessClaims{}, false
	}
	claims, ok := claimsVal.(security.AccessClaims)
	return claims, ok
}
