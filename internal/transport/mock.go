package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codegraph/graphlink/internal/errors"
)

// MockDriver is an in-memory Driver used by tests. Failure injection is
// per-endpoint and can be flipped at runtime to simulate a server going
// unreachable.
type MockDriver struct {
	mu sync.Mutex

	// Latency is applied to every Execute call.
	Latency time.Duration

	// ConnectErr, when set, fails every Connect.
	ConnectErr error

	down  map[string]bool
	conns []*MockConn
}

// NewMockDriver creates a mock transport with no injected failures.
func NewMockDriver() *MockDriver {
	return &MockDriver{down: make(map[string]bool)}
}

// SetDown marks an endpoint unreachable (or reachable again). Existing
// connections to it start failing pings and executes.
func (d *MockDriver) SetDown(endpoint Endpoint, down bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.down[endpoint.String()] = down
}

// Conns returns every connection handed out so far.
func (d *MockDriver) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockConn, len(d.conns))
	copy(out, d.conns)
	return out
}

func (d *MockDriver) isDown(endpoint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.down[endpoint]
}

// Connect hands out a new mock connection.
func (d *MockDriver) Connect(ctx context.Context, endpoint Endpoint) (Conn, error) {
	if d.ConnectErr != nil {
		return nil, d.ConnectErr
	}
	if d.isDown(endpoint.String()) {
		return nil, errors.ConnectionError(nil, "endpoint unreachable")
	}
	conn := &MockConn{driver: d, endpoint: endpoint.String()}
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// MockConn is the connection produced by MockDriver.
type MockConn struct {
	driver   *MockDriver
	endpoint string

	mu         sync.Mutex
	sessionID  string
	closed     bool
	executed   []string
	signedOut  []string
	execErr    error
	authErr    error
	execHold   chan struct{}
	executeCnt int
}

// SetExecuteErr injects an error for subsequent Execute calls.
func (c *MockConn) SetExecuteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execErr = err
}

// SetAuthErr injects an error for subsequent Authenticate calls.
func (c *MockConn) SetAuthErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authErr = err
}

// HoldExecutes makes Execute block until ReleaseExecutes is called, so tests
// can pin connections busy deterministically.
func (c *MockConn) HoldExecutes() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execHold = make(chan struct{})
}

// ReleaseExecutes unblocks held Execute calls.
func (c *MockConn) ReleaseExecutes() {
	c.mu.Lock()
	hold := c.execHold
	c.execHold = nil
	c.mu.Unlock()
	if hold != nil {
		close(hold)
	}
}

// Executed returns the statements run on this connection.
func (c *MockConn) Executed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.executed))
	copy(out, c.executed)
	return out
}

// SignedOut returns the session IDs released on this connection.
func (c *MockConn) SignedOut() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.signedOut))
	copy(out, c.signedOut)
	return out
}

// SessionID returns the current session identifier, empty when signed out.
func (c *MockConn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Closed reports whether Close was called.
func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Authenticate mints a new session ID unless an auth error is injected.
func (c *MockConn) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	if c.driver.isDown(c.endpoint) {
		return "", errors.ConnectionError(nil, "endpoint unreachable")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authErr != nil {
		return "", c.authErr
	}
	if creds.Username == "" {
		return "", errors.AuthenticationError(nil, "missing credentials")
	}
	c.sessionID = uuid.NewString()
	return c.sessionID, nil
}

// Execute records the statement and returns a single-row result.
func (c *MockConn) Execute(ctx context.Context, sessionID, stmt string, params map[string]any) (*Result, error) {
	if c.driver.isDown(c.endpoint) {
		return nil, errors.ConnectionError(nil, "endpoint unreachable")
	}

	c.mu.Lock()
	if c.sessionID == "" || sessionID != c.sessionID {
		c.mu.Unlock()
		return nil, errors.SessionInvalidError(nil, "invalid session")
	}
	if c.execErr != nil {
		err := c.execErr
		c.mu.Unlock()
		return nil, err
	}
	c.executed = append(c.executed, stmt)
	c.executeCnt++
	hold := c.execHold
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, errors.ConnectionError(ctx.Err(), "execute aborted")
		}
	}
	if c.driver.Latency > 0 {
		select {
		case <-time.After(c.driver.Latency):
		case <-ctx.Done():
			return nil, errors.ConnectionError(ctx.Err(), "execute aborted")
		}
	}

	return &Result{
		Columns: []string{"ok"},
		Rows:    []map[string]any{{"ok": true, "stmt": stmt}},
	}, nil
}

// SignOut clears the session, recording the call for assertions.
func (c *MockConn) SignOut(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signedOut = append(c.signedOut, sessionID)
	if c.sessionID == sessionID {
		c.sessionID = ""
	}
	if c.driver.isDown(c.endpoint) {
		return errors.ConnectionError(nil, "endpoint unreachable")
	}
	return nil
}

// Ping fails when the endpoint is marked down or the conn is closed.
func (c *MockConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.ConnectionError(nil, "connection closed")
	}
	if c.driver.isDown(c.endpoint) {
		return errors.ConnectionError(nil, "endpoint unreachable")
	}
	return nil
}

// Close marks the connection closed.
func (c *MockConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.sessionID = ""
	return nil
}
