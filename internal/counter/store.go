// Package counter implements the fixed-window counter stores behind the rate limiter.
//
// Every Store exposes a single mutation, Increment, which is linearizable per
// key: concurrent callers on one key observe counts 1, 2, ..., N with no
// duplicates and no gaps.
package counter

import (
	"context"
	"time"
)

// Record is the state of one counter after an increment.
type Record struct {
	Key         string
	Count       int64
	WindowStart time.Time
}

// Store maps a key to a fixed-window counter.
type Store interface {
	// Increment atomically bumps the counter for key. When no record exists or
	// the current window is at least window old, the record is replaced by a
	// fresh one with count 1 starting now. The record's TTL is refreshed to window.
	Increment(ctx context.Context, key string, window time.Duration) (Record, error)

	// ClearAll drops every counter. Used by tests and the admin reset endpoint.
	ClearAll(ctx context.Context) error
}
