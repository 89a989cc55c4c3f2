package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var errBackend = errors.New("backend down")

func failing(context.Context) error    { return errBackend }
func succeeding(context.Context) error { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{Name: "counter", MaxFailures: 3, Timeout: 10 * time.Second, Now: clock.Now})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, failing), errBackend)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := New(Config{MaxFailures: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	require.NoError(t, cb.Execute(ctx, succeeding))
	_ = cb.Execute(ctx, failing)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Metrics().FailureCount)
}

func TestHalfOpenProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{Name: "quota", MaxFailures: 1, Timeout: 5 * time.Second, Now: clock.Now})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(6 * time.Second)

	// While the probe runs, other callers are rejected.
	err := cb.Execute(ctx, func(context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, succeeding), ErrCircuitOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := New(Config{MaxFailures: 1, Timeout: time.Second, Now: clock.Now})
	ctx := context.Background()

	_ = cb.Execute(ctx, failing)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(ctx, failing)

	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, succeeding), ErrCircuitOpen)
}

func TestCallerCancellationIsNotAFailure(t *testing.T) {
	cb := New(Config{MaxFailures: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 10; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Metrics().FailureCount)
	require.NoError(t, cb.Execute(context.Background(), succeeding))
}

func TestDeadlineCountsAsFailure(t *testing.T) {
	cb := New(Config{MaxFailures: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, cb.State())
}

func TestReset(t *testing.T) {
	cb := New(Config{Name: "counter", MaxFailures: 1})
	_ = cb.Execute(context.Background(), failing)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()

	m := cb.Metrics()
	assert.Equal(t, "counter", m.Name)
	assert.Equal(t, StateClosed, m.State)
	assert.Zero(t, m.FailureCount)
	require.NoError(t, cb.Execute(context.Background(), succeeding))
}

func TestStateText(t *testing.T) {
	text, err := StateHalfOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "half-open", string(text))
	assert.Equal(t, "unknown", State(9).String())
}
