// Package tier holds the process-wide rate limit and daily quota tables.
//
// Policies are built once at startup from the defaults below plus optional
// configuration overrides and are read-only afterwards.
package tier

import (
	"strings"
	"time"
)

// Tier is a named caller class mapping to a rate limit policy.
type Tier string

const (
	Guest   Tier = "guest"
	Free    Tier = "free"
	Premium Tier = "premium"
	Pro     Tier = "pro"
	Strict  Tier = "strict"
)

// Plan is a subscription level mapping to a daily quota.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
	PlanPro     Plan = "pro"
)

// RateLimitConfig is an immutable rate limit policy. Values are only
// produced by a Registry.
type RateLimitConfig struct {
	name          string
	maxRequests   int
	windowSeconds int
	errorMessage  string
}

func (c RateLimitConfig) Name() string { return c.name }

func (c RateLimitConfig) MaxRequests() int { return c.maxRequests }

func (c RateLimitConfig) WindowSeconds() int { return c.windowSeconds }

// ErrorMessage is the policy specific denial message, empty when the tier default applies.
func (c RateLimitConfig) ErrorMessage() string { return c.errorMessage }

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.windowSeconds) * time.Second
}

// Valid reports whether both numeric fields are positive. Invalid policies always deny.
func (c RateLimitConfig) Valid() bool {
	return c.maxRequests > 0 && c.windowSeconds > 0
}

// Definition describes one tier when building a Registry.
type Definition struct {
	Name          string
	MaxRequests   int
	WindowSeconds int
	ErrorMessage  string
}

// PlanDefinition describes one plan when building a Registry.
type PlanDefinition struct {
	Name       string
	DailyQuota int
}

// PlanLimit is the read model of a plan entry.
type PlanLimit struct {
	Plan       Plan `json:"plan"`
	DailyQuota int  `json:"daily_quota"`
}

var defaultTiers = []Definition{
	{Name: string(Guest), MaxRequests: 30, WindowSeconds: 60},
	{Name: string(Free), MaxRequests: 60, WindowSeconds: 60},
	{Name: string(Premium), MaxRequests: 120, WindowSeconds: 60},
	{Name: string(Pro), MaxRequests: 300, WindowSeconds: 60},
	{Name: string(Strict), MaxRequests: 5, WindowSeconds: 60},
}

var defaultPlans = map[Plan]int{
	PlanFree:    10,
	PlanPremium: 500,
	PlanPro:     2000,
}

// NormalizePlan maps a stored plan value onto a known Plan. Anything
// unrecognized, including the empty string, is the free plan.
func NormalizePlan(plan string) Plan {
	switch p := Plan(strings.ToLower(strings.TrimSpace(plan))); p {
	case PlanFree, PlanPremium, PlanPro:
		return p
	default:
		return PlanFree
	}
}

// ResolvePlanLimit returns the default daily quota for plan. Unknown or
// missing plans get the free limit, never an unlimited one.
func ResolvePlanLimit(plan string) int {
	return defaultPlans[NormalizePlan(plan)]
}

// ForPlan returns the rate limit tier of an authenticated account on plan.
func ForPlan(plan string) Tier {
	switch NormalizePlan(plan) {
	case PlanPremium:
		return Premium
	case PlanPro:
		return Pro
	default:
		return Free
	}
}

// Upgrade returns the plan a caller on plan would upgrade to, or "" at the top.
func Upgrade(plan Plan) Plan {
	switch plan {
	case PlanFree:
		return PlanPremium
	case PlanPremium:
		return PlanPro
	default:
		return ""
	}
}
