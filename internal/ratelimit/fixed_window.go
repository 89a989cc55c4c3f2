package ratelimit

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/counter"
	"github.com/aman-churiwal/admission-gateway/internal/metrics"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/hashicorp/go-hclog"
)

const DefaultStoreTimeout = 250 * time.Millisecond

type Options struct {
	Now          func() time.Time
	StoreTimeout time.Duration // Default: DefaultStoreTimeout, negative disables
	Logger       hclog.Logger
	Metrics      *metrics.Metrics
}

// FixedWindowLimiter counts requests per (policy, identity) in fixed windows
// held by a counter.Store. It fails open when the store cannot answer.
type FixedWindowLimiter struct {
	store   counter.Store
	now     func() time.Time
	timeout time.Duration
	logger  hclog.Logger
	metrics *metrics.Metrics
}

func NewFixedWindow(store counter.Store, opts Options) *FixedWindowLimiter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StoreTimeout == 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	return &FixedWindowLimiter{
		store:   store,
		now:     opts.Now,
		timeout: opts.StoreTimeout,
		logger:  opts.Logger.Named("ratelimit"),
		metrics: opts.Metrics,
	}
}

// BuildKey returns the counter key for an identity under a policy. Policies
// never share counters.
func BuildKey(policy, identity string) string {
	return policy + ":" + identity
}

func (f *FixedWindowLimiter) Check(ctx context.Context, identity string, cfg tier.RateLimitConfig) Result {
	started := time.Now()
	res := f.check(ctx, identity, cfg)

	f.metrics.RecordRateLimitCheck(cfg.Name(), res.Outcome())
	f.metrics.ObserveCheckDuration("rate_limit", time.Since(started).Seconds())

	return res
}

func (f *FixedWindowLimiter) check(ctx context.Context, identity string, cfg tier.RateLimitConfig) Result {
	now := f.now()

	if !cfg.Valid() {
		f.logger.Warn("rejecting request under degenerate policy",
			"policy", cfg.Name(), "max_requests", cfg.MaxRequests(), "window_seconds", cfg.WindowSeconds())
		return Result{
			Allowed: false,
			Reset:   now,
			Policy:  cfg.Name(),
			Kind:    admission.KindInvalidPolicy,
		}
	}

	// A client that disconnects mid-check is still counted.
	ctx = context.WithoutCancel(ctx)
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	limit := cfg.MaxRequests()
	rec, err := f.store.Increment(ctx, BuildKey(cfg.Name(), identity), cfg.Window())
	if err != nil {
		f.metrics.RecordStoreError("counter")
		f.logger.Warn("counter store failed, admitting request", "policy", cfg.Name(), "identity", identity, "error", err)
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			Reset:     now.Add(cfg.Window()),
			Policy:    cfg.Name(),
			Kind:      admission.KindStoreUnavailable,
		}
	}

	res := Result{
		Allowed:   rec.Count <= int64(limit),
		Limit:     limit,
		Remaining: int(max(int64(limit)-rec.Count, 0)),
		Reset:     rec.WindowStart.Add(cfg.Window()),
		Policy:    cfg.Name(),
	}
	if !res.Allowed {
		res.Kind = admission.KindRateLimited
		f.logger.Debug("rate limit exceeded", "policy", cfg.Name(), "identity", identity, "count", rec.Count)
	}

	return res
}
