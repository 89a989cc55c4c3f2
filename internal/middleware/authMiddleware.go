package middleware

import (
	"net/http"
	"strings"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (jwt.MapClaims, error)
}

// Authenticates a Bearer token when one is sent. Requests without an
// Authorization header pass through as anonymous
func Authenticate(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization header format. Use: Bearer <token>",
			})
			return
		}

		claims, err := validator.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		userID, _ := claims["user_id"].(string)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid token claims",
			})
			return
		}
		email, _ := claims["email"].(string)
		role, _ := claims["role"].(string)
		plan, _ := claims["plan"].(string)

		c.Set(KeyUserID, userID)
		c.Set(KeyAccountID, userID)
		c.Set(KeyEmail, email)
		c.Set(KeyRole, role)
		c.Set(KeyPlan, string(tier.NormalizePlan(plan)))
		c.Set(KeyTier, string(tier.ForPlan(plan)))

		c.Next()
	}
}

// Rejects anonymous requests. Either a token or an API key is accepted
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if AccountID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}
		c.Next()
	}
}

// Rejects callers without the admin role. Must run after Authenticate
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(KeyUserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			return
		}
		if c.GetString(KeyRole) != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin access required",
			})
			return
		}
		c.Next()
	}
}
