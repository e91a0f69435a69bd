package pool

import (
	"sync"
	"time"

	"github.com/codegraph/graphlink/internal/session"
	"github.com/codegraph/graphlink/internal/transport"
)

// Connection is one pooled transport connection. It is owned exclusively by
// the pool; callers borrow it through Acquire and hand it back with Release.
// A connection is busy for at most one task at a time.
type Connection struct {
	id       string
	endpoint transport.Endpoint
	pool     *Pool

	mu            sync.Mutex
	tc            transport.Conn
	ready         bool
	busy          bool
	lastPingAt    time.Time
	notReadySince time.Time
	reconnecting  bool
	sess          *session.Session
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// Endpoint returns the owning server address.
func (c *Connection) Endpoint() string {
	return c.endpoint.String()
}

// Ready reports whether the connection can carry tasks.
func (c *Connection) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Busy reports whether a task currently holds the connection.
func (c *Connection) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// LastPingAt returns the time of the last successful health check.
func (c *Connection) LastPingAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPingAt
}

// NotReadySince returns when the connection last transitioned to not-ready,
// zero while ready. The session monitor uses this for zombie classification.
func (c *Connection) NotReadySince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notReadySince
}

// Transport returns the underlying transport connection. Nil before the
// first successful handshake.
func (c *Connection) Transport() transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tc
}

// Session returns the session bound to this connection, nil when none.
func (c *Connection) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Recycle asks the pool to drop and re-establish this connection. Used by
// the session monitor's deep cleanup tier.
func (c *Connection) Recycle() {
	c.markNotReady()
	c.pool.scheduleReconnect(c)
}

func (c *Connection) markReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = true
	c.notReadySince = time.Time{}
}

func (c *Connection) markNotReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready || c.notReadySince.IsZero() {
		c.notReadySince = time.Now()
	}
	c.ready = false
}

// TryClaim marks the connection busy if it is ready, free, and holds a valid
// session. The dispatcher uses it to drain its queue onto a freed connection.
func (c *Connection) TryClaim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready || c.busy || c.sess == nil || !c.sess.Valid() {
		return false
	}
	c.busy = true
	return true
}

func (c *Connection) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy = false
}

// swap installs a fresh transport connection and session, returning the
// previous transport so the caller can close it.
func (c *Connection) swap(tc transport.Conn, sess *session.Session) transport.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.tc
	c.tc = tc
	c.sess = sess
	return old
}

// AttachSession binds a fresh session to the connection. Used after an
// out-of-band recovery replaced the server-side session.
func (c *Connection) AttachSession(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = s
}

// detachSession removes and returns the current session binding.
func (c *Connection) detachSession() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.sess
	c.sess = nil
	return sess
}

func (c *Connection) setReconnecting(v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v && c.reconnecting {
		return false // already in progress
	}
	c.reconnecting = v
	return true
}

func (c *Connection) touchPing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastPingAt = time.Now()
}
