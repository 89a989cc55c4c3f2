// Package quota enforces daily ceilings on metered operations per account.
//
// Days are UTC calendar dates. A record is created by the first metered
// operation of the day and is only ever incremented.
package quota

import (
	"context"
	"time"
)

const dateLayout = "2006-01-02"

// Store holds one counter per (user, UTC date).
type Store interface {
	// Get returns the count for userID on date, zero when no record exists.
	Get(ctx context.Context, userID, date string) (int64, error)

	// Increment atomically adds one to the record, creating it when absent,
	// and returns the new count.
	Increment(ctx context.Context, userID, date string) (int64, error)

	// IncrementIfBelow adds one only while the count is below limit. The
	// comparison and the write are a single atomic step. It returns the count
	// after the call and whether it was incremented.
	IncrementIfBelow(ctx context.Context, userID, date string, limit int64) (int64, bool, error)

	ClearAll(ctx context.Context) error
}

// DateKey returns the UTC calendar date of t as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// NextReset returns the next UTC midnight after t.
func NextReset(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}
