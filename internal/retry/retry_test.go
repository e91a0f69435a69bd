package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codegraph/graphlink/internal/errors"
)

func testConfig() Config {
	return Config{
		MaxAttempts:   3,
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

func TestDelaySequence(t *testing.T) {
	s := New(testConfig())

	// base * factor^(attempt-1), capped at max.
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // 32s capped
		30 * time.Second,
	}
	for i, expected := range want {
		rc := &Context{Attempt: i + 1}
		assert.Equal(t, expected, s.Delay(rc), "attempt %d", i+1)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	cfg := testConfig()
	cfg.Jitter = true
	s := New(cfg)

	// Deterministic jitter source: full jitter doubles the delay.
	s.rand = func() float64 { return 1.0 }
	assert.Equal(t, 2*time.Second, s.Delay(&Context{Attempt: 1}))

	s.rand = func() float64 { return 0 }
	assert.Equal(t, time.Second, s.Delay(&Context{Attempt: 1}))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection", errors.ConnectionError(nil, "down"), true},
		{"timeout", errors.TimeoutError("slow"), true},
		{"session invalid", errors.SessionInvalidError(nil, "stale"), true},
		{"auth", errors.AuthenticationError(nil, "denied"), false},
		{"query", errors.QueryError(nil, "syntax"), false},
		{"circuit open", errors.CircuitOpenError("open"), false},
		{"config", errors.ConfigError("bad"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestShouldRetryExhaustsBudget(t *testing.T) {
	s := New(testConfig())
	rc := NewContext("op")
	rc.Err = errors.ConnectionError(nil, "down")

	assert.True(t, s.ShouldRetry(rc))
	rc.Attempt = 2
	assert.True(t, s.ShouldRetry(rc))
	rc.Attempt = 3
	assert.False(t, s.ShouldRetry(rc), "attempt budget includes the first call")
}

func TestDoRetriesTransientErrors(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDelay = time.Millisecond
	s := New(cfg)

	calls := 0
	err := s.Do(context.Background(), NewContext("op"), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.ConnectionError(nil, "down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDelay = time.Millisecond
	s := New(cfg)

	calls := 0
	err := s.Do(context.Background(), NewContext("op"), func(ctx context.Context) error {
		calls++
		return errors.AuthenticationError(nil, "denied")
	})
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsKind(err, errors.KindAuthentication))
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDelay = time.Millisecond
	s := New(cfg)

	calls := 0
	err := s.Do(context.Background(), NewContext("op"), func(ctx context.Context) error {
		calls++
		return errors.ConnectionError(nil, "still down")
	})
	assert.Equal(t, cfg.MaxAttempts, calls)
	assert.True(t, errors.IsKind(err, errors.KindConnection))
}

func TestDoRecordsSleptDelay(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDelay = time.Millisecond
	s := New(cfg)

	rc := NewContext("op")
	var seen []time.Duration
	err := s.Do(context.Background(), rc, func(ctx context.Context) error {
		seen = append(seen, rc.LastDelay)
		return errors.ConnectionError(nil, "still down")
	})
	assert.True(t, errors.IsKind(err, errors.KindConnection))

	// First attempt slept nothing; later attempts carry the backoff that
	// preceded them.
	assert.Equal(t, []time.Duration{0, time.Millisecond, 2 * time.Millisecond}, seen)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.BaseDelay = time.Hour // would hang without cancellation
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := s.Do(ctx, NewContext("op"), func(ctx context.Context) error {
		return errors.ConnectionError(nil, "down")
	})
	assert.True(t, errors.IsKind(err, errors.KindConnection))
}
