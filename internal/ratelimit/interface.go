package ratelimit

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
)

// Checker decides whether one more request from an identity fits its policy.
type Checker interface {
	Check(ctx context.Context, identity string, cfg tier.RateLimitConfig) Result
}

// Result is the outcome of a single rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
	Policy    string

	// Kind is KindNone for a plain allow, KindRateLimited for a denial,
	// KindInvalidPolicy for a degenerate policy and KindStoreUnavailable
	// when the request was let through because the counter store failed.
	Kind admission.Kind
}

// Outcome is the label used for metrics and admission events.
func (r Result) Outcome() string {
	if r.Kind == admission.KindNone {
		return "allowed"
	}
	return string(r.Kind)
}
