package quota

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/metrics"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/hashicorp/go-hclog"
)

// PlanSource resolves the current plan of an account.
type PlanSource interface {
	PlanFor(ctx context.Context, userID string) (string, error)
}

// PlanFunc adapts a function to PlanSource.
type PlanFunc func(ctx context.Context, userID string) (string, error)

func (f PlanFunc) PlanFor(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// Decision is the result of CanUse or Consume.
type Decision struct {
	Allowed      bool
	UserID       string
	Plan         tier.Plan
	CurrentUsage int64
	DailyLimit   int
	Remaining    int
	ResetAt      time.Time

	// Kind is KindNone when allowed, KindQuotaExceeded at the ceiling and
	// KindStoreUnavailable or KindParseFailure when the store could not be read.
	Kind admission.Kind
}

// Status is the quota read model shown on the usage dashboard.
type Status struct {
	CurrentUsage int64     `json:"currentUsage"`
	DailyLimit   int       `json:"dailyLimit"`
	Remaining    int       `json:"remaining"`
	Plan         tier.Plan `json:"plan"`
	ResetAt      time.Time `json:"resetAt"`
}

type Options struct {
	Registry     *tier.Registry // Default: tier.Default()
	Now          func() time.Time
	StoreTimeout time.Duration // Default: 500ms, negative disables
	Logger       hclog.Logger
	Metrics      *metrics.Metrics
}

// Enforcer checks and records daily usage. It fails closed: when the store
// cannot be read, CanUse denies.
type Enforcer struct {
	store    Store
	plans    PlanSource
	registry *tier.Registry
	now      func() time.Time
	timeout  time.Duration
	logger   hclog.Logger
	metrics  *metrics.Metrics
}

func NewEnforcer(store Store, plans PlanSource, opts Options) *Enforcer {
	if opts.Registry == nil {
		opts.Registry = tier.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StoreTimeout == 0 {
		opts.StoreTimeout = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	return &Enforcer{
		store:    store,
		plans:    plans,
		registry: opts.Registry,
		now:      opts.Now,
		timeout:  opts.StoreTimeout,
		logger:   opts.Logger.Named("quota"),
		metrics:  opts.Metrics,
	}
}

// Plan returns the normalized plan of userID. Lookup failures resolve to the free plan.
func (e *Enforcer) Plan(ctx context.Context, userID string) tier.Plan {
	if e.plans == nil {
		return tier.PlanFree
	}

	plan, err := e.plans.PlanFor(ctx, userID)
	if err != nil {
		e.logger.Warn("plan lookup failed, using free plan", "user_id", userID, "error", err)
		return tier.PlanFree
	}
	return tier.NormalizePlan(plan)
}

func (e *Enforcer) decision(ctx context.Context, userID string, now time.Time) Decision {
	plan := e.Plan(ctx, userID)
	return Decision{
		UserID:     userID,
		Plan:       plan,
		DailyLimit: e.registry.ResolvePlanLimit(string(plan)),
		ResetAt:    NextReset(now),
	}
}

// CanUse reports whether userID may perform one more metered operation today.
// It never mutates the store.
func (e *Enforcer) CanUse(ctx context.Context, userID string) Decision {
	started := time.Now()
	now := e.now()
	d := e.decision(ctx, userID, now)

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	usage, err := e.store.Get(ctx, userID, DateKey(now))
	if err != nil {
		e.storeFailed(&d, err)
	} else {
		d.settle(usage, usage < int64(d.DailyLimit))
	}

	e.finish(d, started)
	return d
}

// Consume admits and records one metered operation in a single atomic store
// step. Concurrent callers can never push the day's count past the limit.
func (e *Enforcer) Consume(ctx context.Context, userID string) Decision {
	started := time.Now()
	now := e.now()
	d := e.decision(ctx, userID, now)

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	count, ok, err := e.store.IncrementIfBelow(ctx, userID, DateKey(now), int64(d.DailyLimit))
	if err != nil {
		e.storeFailed(&d, err)
	} else {
		d.settle(count, ok)
		if ok {
			e.metrics.RecordQuotaIncrement(string(d.Plan))
		}
	}

	e.finish(d, started)
	return d
}

// Increment records one successful metered operation for userID today and
// returns the new count. Call it only after the operation succeeded, with the
// plan CanUse resolved.
func (e *Enforcer) Increment(ctx context.Context, userID string, plan tier.Plan) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	count, err := e.store.Increment(ctx, userID, DateKey(e.now()))
	if err != nil {
		e.metrics.RecordStoreError("quota")
		e.logger.Error("failed to record quota usage", "user_id", userID, "error", err)
		if admission.KindOf(err) == admission.KindNone {
			err = admission.StoreUnavailable("quota", err)
		}
		return 0, err
	}

	e.metrics.RecordQuotaIncrement(string(plan))
	return count, nil
}

func (d *Decision) settle(usage int64, allowed bool) {
	d.CurrentUsage = usage
	d.Remaining = int(max(int64(d.DailyLimit)-usage, 0))
	d.Allowed = allowed
	if !allowed {
		d.Kind = admission.KindQuotaExceeded
	}
}

func (e *Enforcer) storeFailed(d *Decision, err error) {
	d.Kind = admission.KindOf(err)
	if d.Kind != admission.KindParseFailure {
		d.Kind = admission.KindStoreUnavailable
	}
	e.metrics.RecordStoreError("quota")
	e.logger.Warn("quota store failed, denying request", "user_id", d.UserID, "error", err)
}

func (e *Enforcer) finish(d Decision, started time.Time) {
	outcome := "allowed"
	if d.Kind != admission.KindNone {
		outcome = string(d.Kind)
	}
	e.metrics.RecordQuotaCheck(string(d.Plan), outcome)
	e.metrics.ObserveCheckDuration("quota", time.Since(started).Seconds())
}

// Status returns today's usage of userID.
func (e *Enforcer) Status(ctx context.Context, userID string) (Status, error) {
	now := e.now()
	plan := e.Plan(ctx, userID)
	limit := e.registry.ResolvePlanLimit(string(plan))

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	usage, err := e.store.Get(ctx, userID, DateKey(now))
	if err != nil {
		return Status{}, err
	}

	return Status{
		CurrentUsage: usage,
		DailyLimit:   limit,
		Remaining:    int(max(int64(limit)-usage, 0)),
		Plan:         plan,
		ResetAt:      NextReset(now),
	}, nil
}

// Store calls are bounded by the enforcer's own timeout, not by the caller's
// cancellation.
func (e *Enforcer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}
