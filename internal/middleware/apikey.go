package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type KeyValidator interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	UpdateLastUsed(id uuid.UUID)
}

// Admits requests carrying X-API-Key as the key's owner on the key's tier
func APIKeyValidator(validator KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKeyHeader := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if apiKeyHeader == "" {
			c.Next()
			return
		}

		apiKey, err := validator.Validate(c.Request.Context(), apiKeyHeader)
		if err != nil || apiKey == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			return
		}

		c.Set(KeyAPIKey, apiKey)
		c.Set(KeyAPIKeyID, apiKey.ID)
		c.Set(KeyAccountID, apiKey.UserID.String())
		c.Set(KeyTier, apiKey.Tier)

		go validator.UpdateLastUsed(apiKey.ID)

		c.Next()
	}
}
