package counter

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
)

// GuardedStore fails fast with store_unavailable while its breaker is open.
type GuardedStore struct {
	store   Store
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuardedStore(store Store, breaker *circuitbreaker.CircuitBreaker) *GuardedStore {
	return &GuardedStore{store: store, breaker: breaker}
}

func (g *GuardedStore) Increment(ctx context.Context, key string, window time.Duration) (Record, error) {
	var rec Record
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		rec, err = g.store.Increment(ctx, key, window)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return Record{}, admission.StoreUnavailable("counter", err)
	}
	return rec, err
}

func (g *GuardedStore) ClearAll(ctx context.Context) error {
	return g.store.ClearAll(ctx)
}

func (g *GuardedStore) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}

// Unwrap returns the guarded store.
func (g *GuardedStore) Unwrap() Store {
	return g.store
}
