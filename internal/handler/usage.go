package handler

import (
	"net/http"

	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/quota"
	"github.com/aman-churiwal/admission-gateway/internal/response"
	"github.com/gin-gonic/gin"
)

type UsageHandler struct {
	enforcer  *quota.Enforcer
	admission middleware.Admission
}

func NewUsageHandler(enforcer *quota.Enforcer, admission middleware.Admission) *UsageHandler {
	return &UsageHandler{enforcer: enforcer, admission: admission}
}

// Handles GET /api/usage
func (h *UsageHandler) Status(c *gin.Context) {
	status, err := h.enforcer.Status(c.Request.Context(), middleware.AccountID(c))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Usage is temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// Handles POST /api/usage/increment. Records one metered operation that the
// caller already performed elsewhere, refusing once the daily quota is used up
func (h *UsageHandler) Increment(c *gin.Context) {
	d := h.enforcer.Consume(c.Request.Context(), middleware.AccountID(c))
	if !d.Allowed {
		h.admission.RecordQuotaDenial(c, d)
		response.Apply(c, h.admission.Formatter.FromQuota(d))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"currentUsage": d.CurrentUsage,
		"dailyLimit":   d.DailyLimit,
		"remaining":    d.Remaining,
		"plan":         d.Plan,
		"resetAt":      d.ResetAt,
	})
}
