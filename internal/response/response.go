// Package response turns admission denials into HTTP answers.
//
// Every denial carries limit, remaining, reset and retry-after both as JSON
// fields and as X-RateLimit-* / Retry-After headers.
package response

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/quota"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/gin-gonic/gin"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderTier       = "X-RateLimit-Tier"
	HeaderRetryAfter = "Retry-After"
)

const DefaultUnavailableRetry = 30 * time.Second

// StructuredError is the body of every admission denial.
type StructuredError struct {
	Status     int            `json:"-"`
	Message    string         `json:"error"`
	Code       admission.Kind `json:"code"`
	Limit      int            `json:"limit"`
	Remaining  int            `json:"remaining"`
	Reset      int64          `json:"reset"`
	RetryAfter int            `json:"retryAfter"`
	Tier       string         `json:"tier,omitempty"`
	Plan       string         `json:"plan,omitempty"`
	UpgradeTo  string         `json:"upgradeTo,omitempty"`
}

type Formatter struct {
	now              func() time.Time
	unavailableRetry time.Duration
}

func NewFormatter(now func() time.Time, unavailableRetry time.Duration) *Formatter {
	if now == nil {
		now = time.Now
	}
	if unavailableRetry <= 0 {
		unavailableRetry = DefaultUnavailableRetry
	}
	return &Formatter{now: now, unavailableRetry: unavailableRetry}
}

// RetryAfter returns whole seconds until reset, never less than one.
func RetryAfter(reset, now time.Time) int {
	secs := math.Ceil(reset.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return int(secs)
}

// FromRateLimit formats a rate limit denial under cfg.
func (f *Formatter) FromRateLimit(res ratelimit.Result, cfg tier.RateLimitConfig) StructuredError {
	now := f.now()

	msg := cfg.ErrorMessage()
	if msg == "" {
		msg = RateLimitMessage(tier.Tier(cfg.Name()))
	}
	if res.Kind == admission.KindInvalidPolicy {
		msg = "Requests are not accepted under the current rate limit policy."
	}

	kind := res.Kind
	if kind == admission.KindNone {
		kind = admission.KindRateLimited
	}

	return StructuredError{
		Status:     http.StatusTooManyRequests,
		Message:    msg,
		Code:       kind,
		Limit:      res.Limit,
		Remaining:  0,
		Reset:      res.Reset.Unix(),
		RetryAfter: RetryAfter(res.Reset, now),
		Tier:       cfg.Name(),
	}
}

// FromQuota formats a quota denial. A store failure becomes 503 with a short
// retry, an exhausted quota becomes 403 retryable at the next UTC midnight.
func (f *Formatter) FromQuota(d quota.Decision) StructuredError {
	now := f.now()

	if d.Kind == admission.KindStoreUnavailable || d.Kind == admission.KindParseFailure {
		reset := now.Add(f.unavailableRetry)
		return StructuredError{
			Status:     http.StatusServiceUnavailable,
			Message:    "Usage tracking is temporarily unavailable. Please retry shortly.",
			Code:       admission.KindStoreUnavailable,
			Limit:      d.DailyLimit,
			Remaining:  0,
			Reset:      reset.Unix(),
			RetryAfter: RetryAfter(reset, now),
			Plan:       string(d.Plan),
		}
	}

	return StructuredError{
		Status:     http.StatusForbidden,
		Message:    QuotaMessage(d.Plan, d.DailyLimit),
		Code:       admission.KindQuotaExceeded,
		Limit:      d.DailyLimit,
		Remaining:  0,
		Reset:      d.ResetAt.Unix(),
		RetryAfter: RetryAfter(d.ResetAt, now),
		Plan:       string(d.Plan),
		UpgradeTo:  string(tier.Upgrade(d.Plan)),
	}
}

// RateLimitMessage suggests the next step for a caller on t.
func RateLimitMessage(t tier.Tier) string {
	switch t {
	case tier.Guest:
		return "Rate limit exceeded. Sign up for a free account to get higher limits."
	case tier.Free:
		return "Rate limit exceeded. Upgrade to Premium for higher limits."
	case tier.Premium:
		return "Rate limit exceeded. Upgrade to Pro for higher limits."
	case tier.Pro:
		return "Rate limit exceeded. Please slow down."
	case tier.Strict:
		return "Too many attempts. Please wait before trying again."
	default:
		return "Rate limit exceeded. Please try again later."
	}
}

func QuotaMessage(plan tier.Plan, limit int) string {
	if next := tier.Upgrade(plan); next != "" {
		return fmt.Sprintf("Daily limit of %d operations reached on the %s plan. Upgrade to %s or try again after midnight UTC.", limit, plan, next)
	}
	return fmt.Sprintf("Daily limit of %d operations reached. Try again after midnight UTC.", limit)
}

// SetHeaders writes the rate limit headers. Retry-After is only set when retryAfter > 0.
func SetHeaders(h http.Header, limit, remaining int, reset int64, retryAfter int) {
	h.Set(HeaderLimit, strconv.Itoa(limit))
	h.Set(HeaderRemaining, strconv.Itoa(remaining))
	h.Set(HeaderReset, strconv.FormatInt(reset, 10))
	if retryAfter > 0 {
		h.Set(HeaderRetryAfter, strconv.Itoa(retryAfter))
	}
}

// SetResultHeaders exposes an allowed check's counters to the client.
func SetResultHeaders(c *gin.Context, res ratelimit.Result) {
	SetHeaders(c.Writer.Header(), res.Limit, res.Remaining, res.Reset.Unix(), 0)
	if res.Policy != "" {
		c.Header(HeaderTier, res.Policy)
	}
}

// Apply writes e as headers plus JSON body and aborts the chain.
func Apply(c *gin.Context, e StructuredError) {
	SetHeaders(c.Writer.Header(), e.Limit, e.Remaining, e.Reset, e.RetryAfter)
	if e.Tier != "" {
		c.Header(HeaderTier, e.Tier)
	}
	c.AbortWithStatusJSON(e.Status, e)
}
