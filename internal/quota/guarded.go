package quota

import (
	"context"
	"errors"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
)

// GuardedStore fails fast with store_unavailable while its breaker is open.
// Parse failures do not trip the breaker.
type GuardedStore struct {
	store   Store
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuardedStore(store Store, breaker *circuitbreaker.CircuitBreaker) *GuardedStore {
	return &GuardedStore{store: store, breaker: breaker}
}

func (g *GuardedStore) Get(ctx context.Context, userID, date string) (int64, error) {
	var count int64
	var parseErr error
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		count, err = g.store.Get(ctx, userID, date)
		if admission.KindOf(err) == admission.KindParseFailure {
			parseErr = err
			return nil
		}
		return err
	})
	if parseErr != nil {
		return 0, parseErr
	}
	return count, g.wrap(err)
}

func (g *GuardedStore) Increment(ctx context.Context, userID, date string) (int64, error) {
	var count int64
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		count, err = g.store.Increment(ctx, userID, date)
		return err
	})
	return count, g.wrap(err)
}

func (g *GuardedStore) IncrementIfBelow(ctx context.Context, userID, date string, limit int64) (int64, bool, error) {
	var count int64
	var incremented bool
	var parseErr error
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		count, incremented, err = g.store.IncrementIfBelow(ctx, userID, date, limit)
		if admission.KindOf(err) == admission.KindParseFailure {
			parseErr = err
			return nil
		}
		return err
	})
	if parseErr != nil {
		return 0, false, parseErr
	}
	return count, incremented, g.wrap(err)
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

func (g *GuardedStore) wrap(err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return admission.StoreUnavailable("quota", err)
	}
	return err
}
