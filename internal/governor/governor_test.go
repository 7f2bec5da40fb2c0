package governor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/symmetric-sync/blocksync/internal/atperr"
)

// TestGovernor_RateLimitBackoff covers a call that fails with a
// rate-limit error three times then succeeds: it should be invoked four
// times total and take at least 1+2+4=7s with R=3, D=1s.
func TestGovernor_RateLimitBackoff(t *testing.T) {
	g := New("test", Config{
		MinInterval: 0,
		WindowCap:   1000,
		Window:      time.Minute,
		MaxRetries:  3,
		BaseBackoff: time.Second,
	})

	calls := 0
	start := time.Now()
	err := g.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 3 {
			return atperr.Wrap(atperr.RateLimited, errors.New("rate limit exceeded"))
		}
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 4, calls)
	require.GreaterOrEqual(t, elapsed, 7*time.Second)
}

func TestGovernor_NonRateLimitPropagatesImmediately(t *testing.T) {
	g := New("test", DefaultConfig())

	calls := 0
	boom := errors.New("boom")
	err := g.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestGovernor_MinIntervalEnforced(t *testing.T) {
	g := New("test", Config{
		MinInterval: 100 * time.Millisecond,
		WindowCap:   1000,
		Window:      time.Minute,
		MaxRetries:  0,
		BaseBackoff: time.Second,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		err := g.Execute(context.Background(), func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}
