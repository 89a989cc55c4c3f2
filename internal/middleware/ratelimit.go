package middleware

import (
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/identity"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/response"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/gin-gonic/gin"
)

// Receives every admission decision that was not a plain allow.
type EventRecorder interface {
	Record(event *models.AdmissionEvent) bool
}

type Admission struct {
	Limiter   ratelimit.Checker
	Registry  *tier.Registry
	Formatter *response.Formatter
	Recorder  EventRecorder    // Optional
	Now       func() time.Time // Default: time.Now
}

func (a Admission) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// Applies the caller's tier policy. Unknown tiers fall back to guest
func RateLimit(a Admission) gin.HandlerFunc {
	return rateLimit(a, "")
}

// Applies one fixed tier regardless of the caller, e.g. strict on login
func RateLimitTier(a Admission, t tier.Tier) gin.HandlerFunc {
	return rateLimit(a, t)
}

func rateLimit(a Admission, fixed tier.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := fixed
		if t == "" {
			t = CallerTier(c)
		}
		cfg := a.Registry.Policy(t)

		caller := identity.Resolve(c.Request, AccountID(c))
		res := a.Limiter.Check(c.Request.Context(), caller, cfg)

		if res.Kind != admission.KindNone {
			a.record(c, caller, res)
		}

		if !res.Allowed {
			response.Apply(c, a.Formatter.FromRateLimit(res, cfg))
			return
		}

		response.SetResultHeaders(c, res)
		c.Next()
	}
}

func (a Admission) record(c *gin.Context, caller string, res ratelimit.Result) {
	if a.Recorder == nil {
		return
	}
	a.Recorder.Record(&models.AdmissionEvent{
		Timestamp: a.now().UTC(),
		Identity:  caller,
		Tier:      res.Policy,
		Outcome:   res.Outcome(),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		Limit:     res.Limit,
		Reset:     res.Reset.UTC(),
		Allowed:   res.Allowed,
	})
}
