package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codegraph/graphlink/internal/cache"
	"github.com/codegraph/graphlink/internal/errors"
	"github.com/codegraph/graphlink/internal/retry"
	"github.com/codegraph/graphlink/internal/transport"
)

func fastRetry(attempts int) *retry.Strategy {
	return retry.New(retry.Config{
		MaxAttempts:   attempts,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	})
}

func newTestHandler(cfg Config, attempts int, store cache.Store) (*Handler, *time.Time) {
	h := New(cfg, fastRetry(attempts), store)
	now := time.Now()
	h.now = func() time.Time { return now }
	return h, &now
}

func failingOp(err error) Operation {
	return func(ctx context.Context) (*transport.Result, error) {
		return nil, err
	}
}

func okOp() Operation {
	return func(ctx context.Context) (*transport.Result, error) {
		return &transport.Result{Columns: []string{"ok"}}, nil
	}
}

func TestClosedCircuitPassesThrough(t *testing.T) {
	h, _ := newTestHandler(DefaultConfig(), 1, nil)

	res, err := h.Execute(context.Background(), "op", okOp())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, Closed, h.State("op"))
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	h, _ := newTestHandler(cfg, 1, nil)

	boom := errors.QueryError(nil, "boom")
	for i := 0; i < 3; i++ {
		assert.Equal(t, Closed, h.State("op"), "circuit must stay closed below threshold")
		_, err := h.Execute(context.Background(), "op", failingOp(boom))
		assert.Error(t, err)
	}
	assert.Equal(t, Open, h.State("op"))

	// While open, calls are short-circuited: the operation never runs.
	called := false
	_, err := h.Execute(context.Background(), "op", func(ctx context.Context) (*transport.Result, error) {
		called = true
		return nil, nil
	})
	assert.True(t, errors.IsKind(err, errors.KindCircuitOpen))
	assert.False(t, called)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	h, _ := newTestHandler(cfg, 1, nil)

	boom := errors.QueryError(nil, "boom")
	h.Execute(context.Background(), "op", failingOp(boom))
	h.Execute(context.Background(), "op", failingOp(boom))
	_, err := h.Execute(context.Background(), "op", okOp())
	require.NoError(t, err)

	// Two more failures must not open the circuit: the counter restarted.
	h.Execute(context.Background(), "op", failingOp(boom))
	h.Execute(context.Background(), "op", failingOp(boom))
	assert.Equal(t, Closed, h.State("op"))
}

func TestExhaustedRetriesCountAsOneFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	h, _ := newTestHandler(cfg, 3, nil)

	calls := 0
	op := func(ctx context.Context) (*transport.Result, error) {
		calls++
		return nil, errors.ConnectionError(nil, "down")
	}

	// One logical call, three transport attempts, one failure recorded.
	_, err := h.Execute(context.Background(), "op", op)
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, Closed, h.State("op"))

	_, err = h.Execute(context.Background(), "op", op)
	assert.Error(t, err)
	assert.Equal(t, Open, h.State("op"))
}

func TestHalfOpenTrialClosesCircuit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.CooldownTimeout = 30 * time.Second
	h, now := newTestHandler(cfg, 1, nil)

	h.Execute(context.Background(), "op", failingOp(errors.QueryError(nil, "boom")))
	require.Equal(t, Open, h.State("op"))

	// Before the cooldown: still short-circuited.
	_, err := h.Execute(context.Background(), "op", okOp())
	assert.True(t, errors.IsKind(err, errors.KindCircuitOpen))

	// After the cooldown: one trial allowed, success closes the circuit.
	*now = now.Add(31 * time.Second)
	assert.Equal(t, HalfOpen, h.State("op"))

	res, err := h.Execute(context.Background(), "op", okOp())
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, Closed, h.State("op"))
}

func TestHalfOpenTrialFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.CooldownTimeout = 30 * time.Second
	h, now := newTestHandler(cfg, 1, nil)

	boom := errors.QueryError(nil, "boom")
	h.Execute(context.Background(), "op", failingOp(boom))
	*now = now.Add(31 * time.Second)

	_, err := h.Execute(context.Background(), "op", failingOp(boom))
	assert.Error(t, err)
	assert.Equal(t, Open, h.State("op"))

	// The cooldown clock restarted: still open just before it elapses again.
	*now = now.Add(29 * time.Second)
	_, err = h.Execute(context.Background(), "op", okOp())
	assert.True(t, errors.IsKind(err, errors.KindCircuitOpen))
}

func TestFallbackCacheServesLastGoodResult(t *testing.T) {
	store := cache.NewMemoryStore(time.Hour)
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Strategy = FallbackCache
	h, _ := newTestHandler(cfg, 1, store)

	// Success records the result for later fallback use.
	res, err := h.Execute(context.Background(), "op", func(ctx context.Context) (*transport.Result, error) {
		return &transport.Result{
			Columns: []string{"n"},
			Rows:    []map[string]any{{"n": "cached"}},
		}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	h.Execute(context.Background(), "op", failingOp(errors.QueryError(nil, "boom")))
	require.Equal(t, Open, h.State("op"))

	cached, err := h.Execute(context.Background(), "op", okOp())
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "cached", cached.Rows[0]["n"])
}

func TestFallbackCacheIgnoresResultlessSuccess(t *testing.T) {
	store := cache.NewMemoryStore(time.Hour)
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Strategy = FallbackCache
	h, _ := newTestHandler(cfg, 1, store)

	// Write-style operations succeed with no result. They must not seed the
	// fallback store: an open circuit later would serve a zero-value result
	// as if it were real data.
	_, err := h.Execute(context.Background(), "op", func(ctx context.Context) (*transport.Result, error) {
		return nil, nil
	})
	require.NoError(t, err)

	var stale transport.Result
	found, err := store.Get(context.Background(), cache.FallbackKey("op"), &stale)
	require.NoError(t, err)
	assert.False(t, found, "resultless success must not populate the fallback store")

	h.Execute(context.Background(), "op", failingOp(errors.QueryError(nil, "boom")))
	require.Equal(t, Open, h.State("op"))

	_, err = h.Execute(context.Background(), "op", okOp())
	assert.True(t, errors.IsKind(err, errors.KindCircuitOpen))
}

func TestFallbackCacheMissPropagatesCircuitOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Strategy = FallbackCache
	h, _ := newTestHandler(cfg, 1, cache.NewMemoryStore(time.Hour))

	h.Execute(context.Background(), "op", failingOp(errors.QueryError(nil, "boom")))
	_, err := h.Execute(context.Background(), "op", okOp())
	assert.True(t, errors.IsKind(err, errors.KindCircuitOpen))
}

func TestFallbackDefaultServesSentinel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.Strategy = FallbackDefault
	cfg.Default = &transport.Result{Columns: []string{"default"}}
	h, _ := newTestHandler(cfg, 1, nil)

	h.Execute(context.Background(), "op", failingOp(errors.QueryError(nil, "boom")))

	res, err := h.Execute(context.Background(), "op", okOp())
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, res.Columns)
}

func TestKeysTripIndependently(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	h, _ := newTestHandler(cfg, 1, nil)

	h.Execute(context.Background(), "broken", failingOp(errors.QueryError(nil, "boom")))
	assert.Equal(t, Open, h.State("broken"))
	assert.Equal(t, Closed, h.State("healthy"))

	res, err := h.Execute(context.Background(), "healthy", okOp())
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestSnapshot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	h, _ := newTestHandler(cfg, 1, nil)

	h.Execute(context.Background(), "op", failingOp(errors.QueryError(nil, "boom")))

	stats := h.Snapshot()
	require.Len(t, stats, 1)
	assert.Equal(t, "op", stats[0].Key)
	assert.Equal(t, Open, stats[0].State)
	assert.Equal(t, 1, stats[0].ConsecutiveFailures)
}
