package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/codegraph/graphlink/internal/errors"
)

// Config configures exponential backoff behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// BackoffFactor is the exponential multiplier between attempts.
	BackoffFactor float64

	// Jitter adds a uniform random amount in [0, delay] to each delay,
	// avoiding synchronized retry storms across many clients.
	Jitter bool
}

// DefaultConfig returns the baseline retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Context tracks the state of one logical retried call. Ephemeral: create a
// fresh one per call.
type Context struct {
	// Operation is the logical operation key, used in logs.
	Operation string

	// Attempt is the 1-based attempt counter.
	Attempt int

	// Err is the error from the most recent attempt.
	Err error

	// LastDelay is the backoff slept before the current attempt, zero on the
	// first.
	LastDelay time.Duration

	// Metadata carries caller context (correlation IDs etc.) into logs.
	Metadata map[string]any
}

// NewContext creates a retry context at attempt 1.
func NewContext(operation string) *Context {
	return &Context{Operation: operation, Attempt: 1}
}

// Strategy classifies errors and computes backoff delays.
type Strategy struct {
	config Config
	logger *slog.Logger

	// rand is the jitter source, overridable in tests.
	rand func() float64
}

// New creates a retry strategy with the given policy.
func New(config Config) *Strategy {
	return &Strategy{
		config: config,
		logger: slog.Default().With("component", "retry"),
		rand:   rand.Float64,
	}
}

// ShouldRetry reports whether another attempt is warranted: the attempt
// budget must not be exhausted and the last error must be transient.
func (s *Strategy) ShouldRetry(rc *Context) bool {
	if rc.Attempt >= s.config.MaxAttempts {
		return false
	}
	return Retryable(rc.Err)
}

// Retryable reports whether an error is a transport-level transient.
// Auth failures, malformed queries, and circuit rejections are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch errors.KindOf(err) {
	case errors.KindConnection, errors.KindTimeout, errors.KindSessionInvalid:
		return true
	default:
		return false
	}
}

// Delay computes the backoff for the context's current attempt:
// min(base * factor^(attempt-1), max), plus uniform jitter in [0, delay]
// when enabled.
func (s *Strategy) Delay(rc *Context) time.Duration {
	exp := math.Pow(s.config.BackoffFactor, float64(rc.Attempt-1))
	delay := time.Duration(float64(s.config.BaseDelay) * exp)
	if delay > s.config.MaxDelay || delay <= 0 {
		delay = s.config.MaxDelay
	}
	if s.config.Jitter {
		delay += time.Duration(s.rand() * float64(delay))
	}
	return delay
}

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) error

// Do invokes op, retrying transient failures with backoff until the attempt
// budget is exhausted. The last error is returned unchanged so callers can
// still branch on its kind.
func (s *Strategy) Do(ctx context.Context, rc *Context, op Operation) error {
	for {
		if err := ctx.Err(); err != nil {
			if rc.Err != nil {
				return rc.Err
			}
			return errors.ConnectionError(err, "canceled before attempt")
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		rc.Err = err

		if !s.ShouldRetry(rc) {
			return err
		}

		delay := s.Delay(rc)
		s.logger.Debug("retrying after failure",
			"operation", rc.Operation,
			"attempt", rc.Attempt,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return rc.Err
		case <-time.After(delay):
		}
		rc.LastDelay = delay
		rc.Attempt++
	}
}
