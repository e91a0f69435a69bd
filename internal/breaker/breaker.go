package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codegraph/graphlink/internal/cache"
	"github.com/codegraph/graphlink/internal/errors"
	"github.com/codegraph/graphlink/internal/retry"
	"github.com/codegraph/graphlink/internal/transport"
)

// State is the circuit state for one operation key.
type State int

const (
	// Closed allows calls through normally.
	Closed State = iota
	// Open rejects calls immediately and serves the fallback.
	Open
	// HalfOpen allows a single trial call to test recovery.
	HalfOpen
)

// String returns the human-readable circuit state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Fallback selects what an open circuit serves.
type Fallback string

const (
	// FallbackCache serves the last good result recorded for the key.
	FallbackCache Fallback = "cache"
	// FallbackDefault serves a configured sentinel result.
	FallbackDefault Fallback = "default"
	// FallbackError propagates a CircuitOpenError.
	FallbackError Fallback = "error"
)

// Config configures the fault tolerance handler.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int

	// CooldownTimeout is how long the circuit stays open before a trial.
	CooldownTimeout time.Duration

	// Strategy selects the fallback served while open.
	Strategy Fallback

	// Default is the sentinel result for FallbackDefault.
	Default *transport.Result
}

// DefaultConfig returns the baseline breaker policy.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		CooldownTimeout:  30 * time.Second,
		Strategy:         FallbackError,
	}
}

type keyState struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// Operation produces a result or an error; the handler wraps it with retry
// and circuit protection.
type Operation func(ctx context.Context) (*transport.Result, error)

// Handler wraps operations under logical keys with circuit breaking. One
// retry-exhausted call counts as one failure toward the threshold, not each
// individual retry attempt.
type Handler struct {
	config Config
	retry  *retry.Strategy
	store  cache.Store
	logger *slog.Logger

	mu     sync.Mutex
	states map[string]*keyState

	// now is the clock, overridable in tests.
	now func() time.Time
}

// New creates a handler. store may be nil when the strategy is not
// FallbackCache.
func New(config Config, strategy *retry.Strategy, store cache.Store) *Handler {
	return &Handler{
		config: config,
		retry:  strategy,
		store:  store,
		logger: slog.Default().With("component", "breaker"),
		states: make(map[string]*keyState),
		now:    time.Now,
	}
}

// Execute runs op under the circuit for key. While closed the call passes
// through (retried per the retry strategy as one logical attempt); while open
// it is short-circuited and served the configured fallback.
func (h *Handler) Execute(ctx context.Context, key string, op Operation) (*transport.Result, error) {
	if !h.allow(key) {
		return h.fallback(ctx, key)
	}

	var result *transport.Result
	rc := retry.NewContext(key)
	err := h.retry.Do(ctx, rc, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})

	if err != nil {
		h.onFailure(key)
		return nil, err
	}

	h.onSuccess(key)
	// Operations that succeed without producing a result (batch writes) have
	// nothing worth replaying from the fallback store; caching them would turn
	// a later open-circuit miss into a bogus zero-value hit.
	if h.config.Strategy == FallbackCache && h.store != nil && result != nil {
		if cacheErr := h.store.Set(ctx, cache.FallbackKey(key), result); cacheErr != nil {
			h.logger.Warn("failed to record fallback result", "operation", key, "error", cacheErr)
		}
	}
	return result, nil
}

// State returns the circuit state for key. Unknown keys report Closed.
func (h *Handler) State(key string) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	ks, ok := h.states[key]
	if !ok {
		return Closed
	}
	// Reflect cooldown expiry in reads as well, so monitoring sees half-open.
	if ks.state == Open && h.now().Sub(ks.openedAt) >= h.config.CooldownTimeout {
		return HalfOpen
	}
	return ks.state
}

// Stats is a snapshot of one key's circuit.
type Stats struct {
	Key                 string
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// Snapshot returns stats for every key seen so far.
func (h *Handler) Snapshot() []Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Stats, 0, len(h.states))
	for key, ks := range h.states {
		out = append(out, Stats{
			Key:                 key,
			State:               ks.state,
			ConsecutiveFailures: ks.consecutiveFailures,
			OpenedAt:            ks.openedAt,
		})
	}
	return out
}

func (h *Handler) keyState(key string) *keyState {
	ks, ok := h.states[key]
	if !ok {
		ks = &keyState{state: Closed}
		h.states[key] = ks
	}
	return ks
}

// allow decides whether a call may proceed, handling the Open→HalfOpen
// transition when the cooldown has elapsed.
func (h *Handler) allow(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ks := h.keyState(key)
	switch ks.state {
	case Closed:
		return true
	case Open:
		if h.now().Sub(ks.openedAt) >= h.config.CooldownTimeout {
			ks.state = HalfOpen
			ks.trialInFlight = true
			h.logger.Info("circuit half-open, allowing trial", "operation", key)
			return true
		}
		return false
	case HalfOpen:
		// One trial at a time; concurrent calls are served the fallback.
		if ks.trialInFlight {
			return false
		}
		ks.trialInFlight = true
		return true
	default:
		return false
	}
}

func (h *Handler) onSuccess(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ks := h.keyState(key)
	switch ks.state {
	case Closed:
		ks.consecutiveFailures = 0
	case HalfOpen:
		ks.state = Closed
		ks.consecutiveFailures = 0
		ks.trialInFlight = false
		h.logger.Info("circuit closed after successful trial", "operation", key)
	}
}

func (h *Handler) onFailure(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ks := h.keyState(key)
	switch ks.state {
	case Closed:
		ks.consecutiveFailures++
		if ks.consecutiveFailures >= h.config.FailureThreshold {
			ks.state = Open
			ks.openedAt = h.now()
			h.logger.Warn("circuit opened",
				"operation", key,
				"consecutive_failures", ks.consecutiveFailures)
		}
	case HalfOpen:
		// Trial failed: reopen and restart the cooldown clock.
		ks.state = Open
		ks.openedAt = h.now()
		ks.trialInFlight = false
		h.logger.Warn("circuit reopened after failed trial", "operation", key)
	}
}

// fallback serves the configured response for an open circuit.
func (h *Handler) fallback(ctx context.Context, key string) (*transport.Result, error) {
	switch h.config.Strategy {
	case FallbackCache:
		if h.store != nil {
			var cached transport.Result
			found, err := h.store.Get(ctx, cache.FallbackKey(key), &cached)
			if err != nil {
				h.logger.Warn("fallback cache read failed", "operation", key, "error", err)
			}
			if found {
				h.logger.Debug("serving cached fallback", "operation", key)
				return &cached, nil
			}
		}
		return nil, errors.CircuitOpenError("circuit open for " + key + " and no cached result")
	case FallbackDefault:
		if h.config.Default != nil {
			return h.config.Default, nil
		}
		return nil, errors.CircuitOpenError("circuit open for " + key + " and no default configured")
	default:
		return nil, errors.CircuitOpenError("circuit open for " + key)
	}
}
