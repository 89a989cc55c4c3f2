package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/quota"
	"github.com/aman-churiwal/admission-gateway/internal/response"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

const (
	HeaderQuotaLimit     = "X-Quota-Limit"
	HeaderQuotaRemaining = "X-Quota-Remaining"
)

// Meters the wrapped handler against the caller's daily quota. The check is
// read-only; usage is recorded only when the handler answered below 400.
func QuotaGate(enforcer *quota.Enforcer, a Admission, logger hclog.Logger) gin.HandlerFunc {
	logger = logger.Named("quota")

	return func(c *gin.Context) {
		account := AccountID(c)
		if account == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required for metered operations",
			})
			return
		}

		ctx := c.Request.Context()
		d := enforcer.CanUse(ctx, account)
		if !d.Allowed {
			a.recordQuota(c, d)
			response.Apply(c, a.Formatter.FromQuota(d))
			return
		}

		// Remaining after this operation, assuming it succeeds
		c.Header(HeaderQuotaLimit, strconv.Itoa(d.DailyLimit))
		c.Header(HeaderQuotaRemaining, strconv.Itoa(max(d.Remaining-1, 0)))

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			return
		}
		if _, err := enforcer.Increment(context.WithoutCancel(ctx), account, d.Plan); err != nil {
			logger.Error("metered operation succeeded but usage was not recorded",
				"account_id", account, "path", c.Request.URL.Path, "error", err)
		}
	}
}

func (a Admission) recordQuota(c *gin.Context, d quota.Decision) {
	if a.Recorder == nil {
		return
	}
	a.Recorder.Record(&models.AdmissionEvent{
		Timestamp: a.now().UTC(),
		Identity:  d.UserID,
		Tier:      string(d.Plan),
		Outcome:   string(d.Kind),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Limit:     d.DailyLimit,
		Reset:     d.ResetAt.UTC(),
		Allowed:   false,
	})
}

// Records a quota denial made outside QuotaGate
func (a Admission) RecordQuotaDenial(c *gin.Context, d quota.Decision) {
	if d.Kind == admission.KindNone {
		return
	}
	a.recordQuota(c, d)
}
