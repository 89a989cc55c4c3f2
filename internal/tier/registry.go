package tier

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps tiers to rate limit policies and plans to daily quotas.
// It is safe for concurrent use because it is never mutated after NewRegistry.
type Registry struct {
	policies map[Tier]RateLimitConfig
	order    []Tier
	plans    map[Plan]int
}

// NewRegistry builds the default tables and applies overrides on top.
// Overrides may add tiers. Plan overrides may only target known plans.
func NewRegistry(tiers []Definition, plans []PlanDefinition) (*Registry, error) {
	r := &Registry{
		policies: make(map[Tier]RateLimitConfig, len(defaultTiers)),
		plans:    make(map[Plan]int, len(defaultPlans)),
	}

	for _, def := range defaultTiers {
		r.set(def)
	}
	for _, def := range tiers {
		if strings.TrimSpace(def.Name) == "" {
			return nil, fmt.Errorf("tier override without a name")
		}
		r.set(def)
	}

	for plan, quota := range defaultPlans {
		r.plans[plan] = quota
	}
	for _, def := range plans {
		plan := Plan(strings.ToLower(strings.TrimSpace(def.Name)))
		if _, known := defaultPlans[plan]; !known {
			return nil, fmt.Errorf("unknown plan %q", def.Name)
		}
		if def.DailyQuota < 0 {
			return nil, fmt.Errorf("plan %s: daily quota must not be negative", plan)
		}
		r.plans[plan] = def.DailyQuota
	}

	return r, nil
}

// Default returns a registry holding only the built-in tables.
func Default() *Registry {
	r, _ := NewRegistry(nil, nil)
	return r
}

func (r *Registry) set(def Definition) {
	name := Tier(strings.ToLower(strings.TrimSpace(def.Name)))
	if _, exists := r.policies[name]; !exists {
		r.order = append(r.order, name)
	}
	r.policies[name] = RateLimitConfig{
		name:          string(name),
		maxRequests:   def.MaxRequests,
		windowSeconds: def.WindowSeconds,
		errorMessage:  def.ErrorMessage,
	}
}

// Lookup returns the policy of t and whether t is known.
func (r *Registry) Lookup(t Tier) (RateLimitConfig, bool) {
	cfg, ok := r.policies[Tier(strings.ToLower(string(t)))]
	return cfg, ok
}

// Policy returns the policy of t, falling back to the guest policy for unknown tiers.
func (r *Registry) Policy(t Tier) RateLimitConfig {
	if cfg, ok := r.Lookup(t); ok {
		return cfg
	}
	return r.policies[Guest]
}

// Policies lists every policy in registration order.
func (r *Registry) Policies() []RateLimitConfig {
	out := make([]RateLimitConfig, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.policies[t])
	}
	return out
}

// ResolvePlanLimit returns the daily quota for plan. Unknown or missing plans
// get the free limit.
func (r *Registry) ResolvePlanLimit(plan string) int {
	return r.plans[NormalizePlan(plan)]
}

// Plans lists every plan ordered by quota.
func (r *Registry) Plans() []PlanLimit {
	out := make([]PlanLimit, 0, len(r.plans))
	for plan, quota := range r.plans {
		out = append(out, PlanLimit{Plan: plan, DailyQuota: quota})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DailyQuota == out[j].DailyQuota {
			return out[i].Plan < out[j].Plan
		}
		return out[i].DailyQuota < out[j].DailyQuota
	})
	return out
}
