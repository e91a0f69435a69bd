package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codegraph/graphlink/internal/errors"
	"github.com/codegraph/graphlink/internal/pool"
	"github.com/codegraph/graphlink/internal/session"
	"github.com/codegraph/graphlink/internal/transport"
)

// Config configures the task dispatcher.
type Config struct {
	// BufferSize caps the pending queue. When a task arrives on a full
	// queue, the oldest pending task is evicted and rejected; the newcomer
	// always gets a queue slot.
	BufferSize int

	// ExecuteTimeout is the client-side give-up deadline per task. A timed
	// out task settles with a timeout error but the in-flight transport call
	// is not cancelled; its connection frees only when the call completes.
	ExecuteTimeout time.Duration

	// MaxQPS throttles task admission when positive. Zero means unlimited.
	MaxQPS float64
}

// DefaultConfig returns the baseline dispatch policy.
func DefaultConfig() Config {
	return Config{
		BufferSize:     256,
		ExecuteTimeout: 30 * time.Second,
	}
}

// Dispatcher routes statements to free pool connections, one task per
// connection at a time, queueing the overflow in FIFO order.
type Dispatcher struct {
	config   Config
	pool     *pool.Pool
	sessions *session.Manager
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu     sync.Mutex
	queue  []*Task
	closed bool

	wg sync.WaitGroup
}

// New creates a dispatcher and registers it as the pool's free-connection
// consumer. Call before pool.Initialize so startup notifications drain any
// early submissions.
func New(config Config, p *pool.Pool, sessions *session.Manager) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.ExecuteTimeout <= 0 {
		config.ExecuteTimeout = 30 * time.Second
	}
	d := &Dispatcher{
		config:   config,
		pool:     p,
		sessions: sessions,
		logger:   slog.Default().With("component", "dispatch"),
	}
	if config.MaxQPS > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(config.MaxQPS), 1)
	}
	p.SetReadyCallback(d.onConnReady)
	return d
}

// Execute submits a statement and returns the pending task. The task settles
// with the server result, a timeout, or a queue eviction.
func (d *Dispatcher) Execute(ctx context.Context, command string, params map[string]any) (*Task, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, errors.SeverityMedium, "rate limit wait interrupted")
		}
	}

	t := newTask(CorrelationFrom(ctx), command, params, d.config.ExecuteTimeout)
	t.timer = time.AfterFunc(t.Timeout, func() { d.expire(t) })

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		t.settle(nil, errors.ConnectionError(nil, "dispatcher closed"))
		return t, nil
	}

	// Fast path: a connection is free right now.
	c, err := d.pool.Acquire()
	if err == nil {
		d.wg.Add(1)
		d.mu.Unlock()
		go d.run(c, t)
		return t, nil
	}
	if err == pool.ErrPoolClosed {
		d.mu.Unlock()
		t.settle(nil, errors.ConnectionError(err, "connection pool closed"))
		return t, nil
	}

	// All connections busy or unhealthy: queue, evicting the oldest pending
	// task when the buffer is full. Eviction and append stay under one lock
	// hold so concurrent submitters cannot interleave between them and push
	// the queue past BufferSize.
	var evicted *Task
	if len(d.queue) >= d.config.BufferSize {
		evicted = d.queue[0]
		d.queue = d.queue[1:]
	}
	d.queue = append(d.queue, t)
	depth := len(d.queue)
	d.mu.Unlock()

	if evicted != nil {
		evicted.settle(nil, errors.BufferFullError("task evicted by newer submission"))
		d.logger.Warn("queue full, oldest task evicted",
			"task_id", evicted.ID,
			"correlation_id", evicted.CorrelationID,
			"queued_for", time.Since(evicted.EnqueuedAt))
	}

	d.logger.Debug("task queued",
		"task_id", t.ID,
		"correlation_id", t.CorrelationID,
		"queue_depth", depth)
	return t, nil
}

// Run submits a statement and waits for it to settle.
func (d *Dispatcher) Run(ctx context.Context, command string, params map[string]any) (*transport.Result, error) {
	t, err := d.Execute(ctx, command, params)
	if err != nil {
		return nil, err
	}
	return t.Wait(ctx)
}

// onConnReady pops the queue head onto a freed connection. Invoked by the
// pool on release, successful ping, and re-establishment.
func (d *Dispatcher) onConnReady(c *pool.Connection) {
	d.mu.Lock()
	// Skip tasks that already settled (timed out or evicted) while waiting
	// in the queue.
	var t *Task
	for len(d.queue) > 0 {
		head := d.queue[0]
		d.queue = d.queue[1:]
		if !head.Settled() {
			t = head
			break
		}
	}
	if t == nil {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if !c.TryClaim() {
		// Connection got claimed elsewhere; requeue at the head.
		d.mu.Lock()
		d.queue = append([]*Task{t}, d.queue...)
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	go d.run(c, t)
}

// run executes one task on a claimed connection and releases it when the
// transport call completes, regardless of whether the caller is still
// waiting. The transport context is deliberately not bound to the task
// timeout: a give-up is not a cancel.
func (d *Dispatcher) run(c *pool.Connection, t *Task) {
	defer d.wg.Done()
	defer d.pool.Release(c)

	sess := c.Session()
	if sess == nil || !sess.Valid() {
		t.settle(nil, errors.SessionInvalidError(nil, "connection has no valid session"))
		return
	}
	sess.Touch()

	res, err := c.Transport().Execute(context.Background(), sess.ID(), t.Command, t.Params)
	if err != nil {
		if errors.IsKind(err, errors.KindSessionInvalid) {
			d.recoverSession(c)
		}
		t.settle(nil, err)
		return
	}
	t.settle(res, nil)
}

// recoverSession replaces a connection's server-side session after the server
// reported it invalid. The connection stays out of rotation until the new
// session is bound.
func (d *Dispatcher) recoverSession(c *pool.Connection) {
	d.logger.Warn("session rejected by server, recovering",
		"connection_id", c.ID(),
		"endpoint", c.Endpoint())
	sess, err := d.sessions.Recover(context.Background(), c)
	if err != nil {
		d.logger.Error("session recovery failed, recycling connection",
			"connection_id", c.ID(),
			"error", err)
		c.Recycle()
		return
	}
	c.AttachSession(sess)
}

// expire settles a task with a timeout. Queued tasks are lazily skipped at
// dequeue time; an in-flight transport call keeps running and frees its
// connection on completion.
func (d *Dispatcher) expire(t *Task) {
	if t.Settled() {
		return
	}
	t.settle(nil, errors.TimeoutErrorf("task gave up after %s", t.Timeout))
	d.logger.Warn("task timed out",
		"task_id", t.ID,
		"correlation_id", t.CorrelationID,
		"timeout", t.Timeout)
}

// QueueDepth returns the number of pending tasks.
func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.queue {
		if !t.Settled() {
			n++
		}
	}
	return n
}

// Close rejects all pending tasks and waits for in-flight transport calls to
// complete or ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, t := range pending {
		t.settle(nil, errors.ConnectionError(nil, "dispatcher closed"))
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.TimeoutError("dispatcher close interrupted with tasks in flight")
	}
}
