package transport

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Endpoint is a single graph server address, host:port.
type Endpoint struct {
	Host string
	Port int
}

// String renders the endpoint as host:port.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ParseEndpoint validates and splits a host:port address.
func ParseEndpoint(addr string) (Endpoint, error) {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q (want host:port)", addr)
	}
	var port int
	if _, err := fmt.Sscanf(parts[1], "%d", &port); err != nil || port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("invalid endpoint port %q", parts[1])
	}
	return Endpoint{Host: parts[0], Port: port}, nil
}

// Result is the normalized outcome of one executed statement.
type Result struct {
	Columns []string
	Rows    []map[string]any
	Latency time.Duration
}

// Credentials carries the authentication material for a session.
type Credentials struct {
	Username string
	Password string
}

// Conn is one transport connection to a single endpoint. A Conn carries at
// most one authenticated session at a time; Execute calls must present the
// sessionID returned by the most recent Authenticate.
type Conn interface {
	// Authenticate performs login and returns the session identifier.
	Authenticate(ctx context.Context, creds Credentials) (string, error)

	// Execute runs one statement under the given session.
	Execute(ctx context.Context, sessionID, stmt string, params map[string]any) (*Result, error)

	// SignOut releases the server-side session. Safe to call with an already
	// released session.
	SignOut(ctx context.Context, sessionID string) error

	// Ping verifies liveness of the underlying connection.
	Ping(ctx context.Context) error

	// Close tears down the connection.
	Close(ctx context.Context) error
}

// Driver dials endpoints and produces connections. Implementations wrap a
// concrete wire protocol; the rest of the runtime only sees this contract.
type Driver interface {
	Connect(ctx context.Context, endpoint Endpoint) (Conn, error)
}
