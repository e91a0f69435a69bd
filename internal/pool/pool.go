package pool

import (
	"context"
	stderrors "errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/codegraph/graphlink/internal/errors"
	"github.com/codegraph/graphlink/internal/events"
	"github.com/codegraph/graphlink/internal/retry"
	"github.com/codegraph/graphlink/internal/session"
	"github.com/codegraph/graphlink/internal/transport"
)

// ErrNoConnAvailable is returned by Acquire when no connection is ready and
// free. Callers queue the task rather than failing it.
var ErrNoConnAvailable = stderrors.New("no connection available")

// ErrPoolClosed is returned once Close has been called.
var ErrPoolClosed = stderrors.New("pool closed")

// Config configures the connection pool.
type Config struct {
	// Endpoints is the server list; PoolSize connections are kept per entry.
	Endpoints []transport.Endpoint

	// PoolSize is the number of connections per endpoint.
	PoolSize int

	// PingInterval is the per-connection health check period.
	PingInterval time.Duration

	// PingTimeout bounds each health check call.
	PingTimeout time.Duration
}

// DefaultConfig returns the baseline pool policy.
func DefaultConfig() Config {
	return Config{
		PoolSize:     4,
		PingInterval: 10 * time.Second,
		PingTimeout:  5 * time.Second,
	}
}

// Pool owns a fixed set of transport connections, keeps them healthy with
// periodic pings, and re-establishes them with backoff after failures.
type Pool struct {
	config   Config
	driver   transport.Driver
	sessions *session.Manager
	retry    *retry.Strategy
	bus      *events.Bus
	logger   *slog.Logger

	mu      sync.Mutex
	conns   []*Connection
	closed  bool
	onReady func(*Connection)

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a pool. Initialize must be called before Acquire.
func New(config Config, driver transport.Driver, sessions *session.Manager, strategy *retry.Strategy, bus *events.Bus) *Pool {
	if config.PoolSize <= 0 {
		config.PoolSize = 4
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 10 * time.Second
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = 5 * time.Second
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Pool{
		config:   config,
		driver:   driver,
		sessions: sessions,
		retry:    strategy,
		bus:      bus,
		logger:   slog.Default().With("component", "pool"),
		stopCh:   make(chan struct{}),
	}
}

// SetReadyCallback registers the dispatcher's free-connection notification.
// Must be called before Initialize.
func (p *Pool) SetReadyCallback(fn func(*Connection)) {
	p.onReady = fn
}

// Events returns the pool's event bus.
func (p *Pool) Events() *events.Bus {
	return p.bus
}

// Initialize creates PoolSize connections per endpoint and performs the
// handshake for each concurrently. Individual failures are logged and
// emitted but do not abort startup: partial availability is acceptable, and
// failed connections keep retrying in the background.
func (p *Pool) Initialize(ctx context.Context) error {
	if len(p.config.Endpoints) == 0 {
		return errors.ConfigError("no server endpoints configured")
	}

	p.mu.Lock()
	for _, ep := range p.config.Endpoints {
		for i := 0; i < p.config.PoolSize; i++ {
			c := &Connection{
				id:       uuid.NewString()[:8],
				endpoint: ep,
				pool:     p,
			}
			c.markNotReady()
			p.conns = append(p.conns, c)
		}
	}
	conns := make([]*Connection, len(p.conns))
	copy(conns, p.conns)
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		c := c
		g.Go(func() error {
			if err := p.establish(gctx, c); err != nil {
				p.logger.Warn("connection failed to initialize, will retry in background",
					"connection_id", c.id,
					"endpoint", c.Endpoint(),
					"error", err)
				p.bus.Emit(events.Event{Kind: events.Failed, ConnectionID: c.id, Endpoint: c.Endpoint(), Err: err})
				p.scheduleReconnect(c)
			}
			return nil // never abort sibling connections
		})
	}
	g.Wait()

	for _, c := range conns {
		p.startPingLoop(c)
	}

	p.logger.Info("pool initialized",
		"endpoints", len(p.config.Endpoints),
		"pool_size", p.config.PoolSize,
		"ready", p.readyCount())
	return nil
}

// establish dials, authenticates, and marks a connection ready.
func (p *Pool) establish(ctx context.Context, c *Connection) error {
	tc, err := p.driver.Connect(ctx, c.endpoint)
	if err != nil {
		return errors.ConnectionErrorf(err, "connect failed for %s", c.Endpoint())
	}
	p.bus.Emit(events.Event{Kind: events.Connected, ConnectionID: c.id, Endpoint: c.Endpoint()})

	old := c.swap(tc, nil)
	if old != nil {
		old.Close(ctx)
	}

	sess, err := p.sessions.Authenticate(ctx, c)
	if err != nil {
		return err
	}
	p.bus.Emit(events.Event{Kind: events.Authorized, ConnectionID: c.id, Endpoint: c.Endpoint()})

	c.AttachSession(sess)
	c.markReady()
	c.touchPing()

	p.bus.Emit(events.Event{Kind: events.Ready, ConnectionID: c.id, Endpoint: c.Endpoint()})
	p.notifyReady(c)
	return nil
}

// Acquire returns a ready, free connection chosen uniformly at random among
// eligible candidates; deliberate load spreading, any fair policy would do.
// Returns ErrNoConnAvailable when nothing is eligible.
func (p *Pool) Acquire() (*Connection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	eligible := make([]*Connection, 0, len(p.conns))
	for _, c := range p.conns {
		if c.Ready() && !c.Busy() {
			eligible = append(eligible, c)
		}
	}
	p.mu.Unlock()

	// Random order, first successful claim wins. TryClaim re-checks
	// eligibility under the connection's own lock.
	for len(eligible) > 0 {
		i := rand.Intn(len(eligible))
		c := eligible[i]
		if c.TryClaim() {
			return c, nil
		}
		eligible[i] = eligible[len(eligible)-1]
		eligible = eligible[:len(eligible)-1]
	}
	return nil, ErrNoConnAvailable
}

// Release hands a connection back and wakes the dispatcher.
func (p *Pool) Release(c *Connection) {
	c.release()
	if c.Ready() {
		p.notifyReady(c)
	}
}

func (p *Pool) notifyReady(c *Connection) {
	if p.onReady != nil {
		p.onReady(c)
	}
}

// startPingLoop runs the per-connection health check timer. Each loop only
// reads and writes its own connection's state.
func (p *Pool) startPingLoop(c *Connection) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.pingOnce(c)
			}
		}
	}()
}

func (p *Pool) pingOnce(c *Connection) {
	tc := c.Transport()
	if tc == nil || !c.Ready() {
		p.scheduleReconnect(c)
		return
	}
	if c.Busy() {
		return // the in-flight task is the liveness signal
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.PingTimeout)
	err := tc.Ping(ctx)
	cancel()

	if err != nil {
		p.logger.Warn("ping failed, marking connection not ready",
			"connection_id", c.id,
			"endpoint", c.Endpoint(),
			"error", err)
		c.markNotReady()
		p.scheduleReconnect(c)
		return
	}

	c.touchPing()
	p.notifyReady(c)
}

// scheduleReconnect starts a background reconnect unless one is already
// running for this connection.
func (p *Pool) scheduleReconnect(c *Connection) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if !c.setReconnecting(true) {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer c.setReconnecting(false)
		p.reconnect(c)
	}()
}

// reconnect re-establishes a connection with backoff. The previous session
// is handed to the session manager for cleanup before any new handshake is
// attempted: a dropped transport never implies the server-side session went
// away with it.
func (p *Pool) reconnect(c *Connection) {
	if old := c.detachSession(); old != nil {
		p.sessions.ReleaseAsync(old)
	}

	rc := retry.NewContext("reconnect")
	op := func(ctx context.Context) error {
		select {
		case <-p.stopCh:
			return errors.ConnectionError(ErrPoolClosed, "reconnect aborted")
		default:
		}
		p.bus.Emit(events.Event{
			Kind:         events.Reconnecting,
			ConnectionID: c.id,
			Endpoint:     c.Endpoint(),
			Retry:        events.RetryInfo{Attempt: rc.Attempt, Delay: rc.LastDelay},
		})
		return p.establish(ctx, c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := p.retry.Do(ctx, rc, op); err != nil {
		p.logger.Error("reconnect attempts exhausted",
			"connection_id", c.id,
			"endpoint", c.Endpoint(),
			"attempts", rc.Attempt,
			"error", err)
		p.bus.Emit(events.Event{Kind: events.Failed, ConnectionID: c.id, Endpoint: c.Endpoint(), Err: err})
	}
}

// Stats is a point-in-time pool snapshot.
type Stats struct {
	Total int
	Ready int
	Busy  int
}

// Stats returns current connection counts.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Total: len(p.conns)}
	for _, c := range p.conns {
		if c.Ready() {
			s.Ready++
		}
		if c.Busy() {
			s.Busy++
		}
	}
	return s
}

func (p *Pool) readyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.conns {
		if c.Ready() {
			n++
		}
	}
	return n
}

// Close stops all timers, releases every session, and closes every
// connection. The dispatcher must be drained first so in-flight tasks have
// settled or been rejected.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*Connection, len(p.conns))
	copy(conns, p.conns)
	p.mu.Unlock()

	p.stopped.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	for _, c := range conns {
		c.markNotReady()
		p.sessions.Drop(ctx, c.id)
		if tc := c.Transport(); tc != nil {
			if err := tc.Close(ctx); err != nil {
				p.logger.Warn("connection close failed",
					"connection_id", c.id,
					"error", err)
			}
		}
		p.bus.Emit(events.Event{Kind: events.Closed, ConnectionID: c.id, Endpoint: c.Endpoint()})
	}

	p.logger.Info("pool closed", "connections", len(conns))
	return nil
}
