package middleware

import (
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/gin-gonic/gin"
)

// Keys set on the gin context by the middleware in this package
const (
	KeyRequestID = "request_id"
	KeyAccountID = "account_id"
	KeyUserID    = "user_id"
	KeyEmail     = "email"
	KeyRole      = "role"
	KeyPlan      = "plan"
	KeyTier      = "tier"
	KeyAPIKey    = "api_key"
	KeyAPIKeyID  = "api_key_id"
)

// Returns the authenticated account of the request, "" for anonymous callers
func AccountID(c *gin.Context) string {
	return c.GetString(KeyAccountID)
}

// Returns the rate limit tier of the caller. Anonymous callers are guests
func CallerTier(c *gin.Context) tier.Tier {
	if t := c.GetString(KeyTier); t != "" {
		return tier.Tier(t)
	}
	return tier.Guest
}
