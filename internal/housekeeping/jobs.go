package housekeeping

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/quota"
)

// UsagePruner deletes quota records dated before a YYYY-MM-DD day.
type UsagePruner interface {
	DeleteBefore(ctx context.Context, date string) (int64, error)
}

// CounterSweeper evicts expired in-memory counters.
type CounterSweeper interface {
	Sweep(now time.Time) int
}

// PruneUsage keeps today plus the previous retentionDays days of quota records.
func PruneUsage(p UsagePruner, retentionDays int, now func() time.Time) Job {
	return func(ctx context.Context) (int64, error) {
		cutoff := now().UTC().AddDate(0, 0, -retentionDays)
		return p.DeleteBefore(ctx, quota.DateKey(cutoff))
	}
}

func SweepCounters(s CounterSweeper, now func() time.Time) Job {
	return func(context.Context) (int64, error) {
		return int64(s.Sweep(now())), nil
	}
}
