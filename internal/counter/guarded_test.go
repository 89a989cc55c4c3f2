package counter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/admission"
	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	calls int
	err   error
}

func (f *flakyStore) Increment(ctx context.Context, key string, window time.Duration) (Record, error) {
	f.calls++
	if f.err != nil {
		return Record{}, f.err
	}
	return Record{Key: key, Count: int64(f.calls)}, nil
}

func (f *flakyStore) ClearAll(ctx context.Context) error { return nil }

func TestGuardedStore_OpensAndFailsFast(t *testing.T) {
	inner := &flakyStore{err: admission.StoreUnavailable("counter", errors.New("i/o timeout"))}
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "counter", MaxFailures: 2, Timeout: time.Minute})
	store := NewGuardedStore(inner, breaker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.Increment(ctx, "k", time.Minute)
		assert.Equal(t, admission.KindStoreUnavailable, admission.KindOf(err))
	}
	require.Equal(t, circuitbreaker.StateOpen, store.Breaker().State())

	_, err := store.Increment(ctx, "k", time.Minute)
	assert.Equal(t, admission.KindStoreUnavailable, admission.KindOf(err))
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, inner.calls, "open breaker must not reach the store")
}

func TestGuardedStore_CancelledCallersKeepBreakerClosed(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "counter", MaxFailures: 5, Timeout: time.Minute})
	store := NewGuardedStore(NewMemoryStore(nil), breaker)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 20; i++ {
		_, err := store.Increment(ctx, "k", time.Minute)
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	rec, err := store.Increment(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec.Count)
}

func TestGuardedStore_PassesThrough(t *testing.T) {
	inner := &flakyStore{}
	store := NewGuardedStore(inner, circuitbreaker.New(circuitbreaker.Config{}))

	rec, err := store.Increment(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Count)
}

func TestFactory(t *testing.T) {
	s, err := New("memory", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New("", nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = New("redis", nil, nil)
	assert.Error(t, err)

	_, err = New("memcached", nil, nil)
	assert.Error(t, err)
}
