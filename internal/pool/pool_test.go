package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codegraph/graphlink/internal/events"
	"github.com/codegraph/graphlink/internal/retry"
	"github.com/codegraph/graphlink/internal/session"
	"github.com/codegraph/graphlink/internal/transport"
)

var testEndpoint = transport.Endpoint{Host: "localhost", Port: 7687}

func fastRetry() *retry.Strategy {
	return retry.New(retry.Config{
		MaxAttempts:   3,
		BaseDelay:     5 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		BackoffFactor: 2.0,
	})
}

func newTestPool(t *testing.T, driver *transport.MockDriver, size int) (*Pool, *session.Manager) {
	t.Helper()
	sessions := session.NewManager(session.Config{
		Space:       "testspace",
		Credentials: transport.Credentials{Username: "neo4j", Password: "secret"},
	})
	p := New(Config{
		Endpoints:    []transport.Endpoint{testEndpoint},
		PoolSize:     size,
		PingInterval: 20 * time.Millisecond,
		PingTimeout:  time.Second,
	}, driver, sessions, fastRetry(), nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Close(ctx)
		sessions.Stop()
	})
	return p, sessions
}

func TestInitializeEstablishesAllConnections(t *testing.T) {
	driver := transport.NewMockDriver()
	p, sessions := newTestPool(t, driver, 3)

	require.NoError(t, p.Initialize(context.Background()))

	stats := p.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Ready)
	assert.Equal(t, 0, stats.Busy)

	// Every connection got its own authenticated session.
	for _, c := range p.conns {
		s := sessions.Lookup(c.ID())
		require.NotNil(t, s)
		assert.True(t, s.Valid())
	}
}

func TestInitializeRequiresEndpoints(t *testing.T) {
	p := New(Config{}, transport.NewMockDriver(), nil, fastRetry(), nil)
	assert.Error(t, p.Initialize(context.Background()))
}

func TestInitializeToleratesUnreachableEndpoint(t *testing.T) {
	driver := transport.NewMockDriver()
	driver.SetDown(testEndpoint, true)
	p, _ := newTestPool(t, driver, 2)

	// Startup succeeds with zero ready connections; recovery is background
	// work, not a startup precondition.
	require.NoError(t, p.Initialize(context.Background()))
	assert.Equal(t, 0, p.Stats().Ready)

	_, err := p.Acquire()
	assert.ErrorIs(t, err, ErrNoConnAvailable)

	// The endpoint comes back; reconnect loops pick it up.
	driver.SetDown(testEndpoint, false)
	require.Eventually(t, func() bool { return p.Stats().Ready == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestAcquireMarksBusyUntilRelease(t *testing.T) {
	driver := transport.NewMockDriver()
	p, _ := newTestPool(t, driver, 1)
	require.NoError(t, p.Initialize(context.Background()))

	c, err := p.Acquire()
	require.NoError(t, err)
	assert.True(t, c.Busy())
	assert.Equal(t, 1, p.Stats().Busy)

	// The only connection is claimed.
	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrNoConnAvailable)

	p.Release(c)
	assert.Equal(t, 0, p.Stats().Busy)

	_, err = p.Acquire()
	require.NoError(t, err)
}

func TestPingFailureTriggersReconnect(t *testing.T) {
	driver := transport.NewMockDriver()
	p, sessions := newTestPool(t, driver, 1)
	require.NoError(t, p.Initialize(context.Background()))

	first := driver.Conns()[0]
	oldSession := sessions.Lookup(p.conns[0].ID()).ID()
	require.NotEmpty(t, oldSession)

	driver.SetDown(testEndpoint, true)
	require.Eventually(t, func() bool { return p.Stats().Ready == 0 }, 2*time.Second, 10*time.Millisecond)

	driver.SetDown(testEndpoint, false)
	require.Eventually(t, func() bool { return p.Stats().Ready == 1 }, 2*time.Second, 10*time.Millisecond)

	// The old session was handed to the session manager for cleanup, and the
	// re-established connection carries a fresh one.
	require.Eventually(t, func() bool {
		for _, id := range first.SignedOut() {
			if id == oldSession {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "old session must be signed out during reconnect")

	newSession := sessions.Lookup(p.conns[0].ID()).ID()
	assert.NotEmpty(t, newSession)
	assert.NotEqual(t, oldSession, newSession)
}

func TestLifecycleEvents(t *testing.T) {
	driver := transport.NewMockDriver()
	p, _ := newTestPool(t, driver, 1)

	var mu sync.Mutex
	var kinds []events.Kind
	p.Events().Subscribe(func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, ev.Kind)
	})

	require.NoError(t, p.Initialize(context.Background()))

	mu.Lock()
	got := append([]events.Kind(nil), kinds...)
	mu.Unlock()
	assert.Equal(t, []events.Kind{events.Connected, events.Authorized, events.Ready}, got)
}

func TestReconnectingEventsCarryBackoffDelay(t *testing.T) {
	driver := transport.NewMockDriver()
	driver.SetDown(testEndpoint, true)
	p, _ := newTestPool(t, driver, 1)

	var mu sync.Mutex
	var retries []events.RetryInfo
	p.Events().Subscribe(func(ev events.Event) {
		if ev.Kind != events.Reconnecting {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		retries = append(retries, ev.Retry)
	})

	require.NoError(t, p.Initialize(context.Background()))

	// Keep the endpoint down long enough for the reconnect loop to back off
	// and try again.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range retries {
			if r.Attempt >= 2 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, r := range retries {
		if r.Attempt == 1 {
			assert.Equal(t, time.Duration(0), r.Delay, "first attempt sleeps nothing")
		}
		if r.Attempt == 2 {
			assert.Equal(t, 5*time.Millisecond, r.Delay, "second attempt reports the backoff it slept")
		}
	}
}

func TestReadyCallbackFiresOnRelease(t *testing.T) {
	driver := transport.NewMockDriver()
	p, _ := newTestPool(t, driver, 1)

	var mu sync.Mutex
	notified := 0
	p.SetReadyCallback(func(*Connection) {
		mu.Lock()
		defer mu.Unlock()
		notified++
	})

	require.NoError(t, p.Initialize(context.Background()))
	mu.Lock()
	afterInit := notified
	mu.Unlock()
	assert.GreaterOrEqual(t, afterInit, 1, "initialization announces ready connections")

	c, err := p.Acquire()
	require.NoError(t, err)
	p.Release(c)

	mu.Lock()
	afterRelease := notified
	mu.Unlock()
	assert.Greater(t, afterRelease, afterInit)
}

func TestCloseReleasesEverything(t *testing.T) {
	driver := transport.NewMockDriver()
	sessions := session.NewManager(session.Config{
		Space:       "testspace",
		Credentials: transport.Credentials{Username: "neo4j", Password: "secret"},
	})
	p := New(Config{
		Endpoints:    []transport.Endpoint{testEndpoint},
		PoolSize:     2,
		PingInterval: time.Hour,
	}, driver, sessions, fastRetry(), nil)
	require.NoError(t, p.Initialize(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Close(ctx))
	sessions.Stop()

	for _, mc := range driver.Conns() {
		assert.True(t, mc.Closed())
		assert.NotEmpty(t, mc.SignedOut(), "sessions are released before transport close")
	}

	_, err := p.Acquire()
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, p.Close(ctx), "close is idempotent")
}
