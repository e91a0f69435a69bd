package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/codegraph/graphlink/internal/errors"
)

// Neo4jDriver implements Driver over the Bolt protocol. Each Conn owns one
// single-connection driver instance so the pool above controls fan-out, not
// the vendor driver's internal pooling.
type Neo4jDriver struct {
	// Database is the database (space) queries execute against.
	Database string

	// Scheme selects the URI scheme, "bolt" unless overridden.
	Scheme string

	logger *slog.Logger
}

// NewNeo4jDriver creates the production transport driver.
func NewNeo4jDriver(database string) *Neo4jDriver {
	return &Neo4jDriver{
		Database: database,
		Scheme:   "bolt",
		logger:   slog.Default().With("component", "transport"),
	}
}

// Connect prepares a connection handle for the endpoint. No network I/O
// happens here; the dial and handshake are driven by Authenticate, which is
// where credentials first become available.
func (d *Neo4jDriver) Connect(ctx context.Context, endpoint Endpoint) (Conn, error) {
	if endpoint.Host == "" || endpoint.Port == 0 {
		return nil, errors.ConfigErrorf("invalid endpoint %q", endpoint.String())
	}
	scheme := d.Scheme
	if scheme == "" {
		scheme = "bolt"
	}
	logger := d.logger
	if logger == nil {
		logger = slog.Default().With("component", "transport")
	}
	return &neo4jConn{
		uri:      fmt.Sprintf("%s://%s", scheme, endpoint.String()),
		database: d.Database,
		logger:   logger.With("endpoint", endpoint.String()),
	}, nil
}

type neo4jConn struct {
	uri      string
	database string
	logger   *slog.Logger

	mu        sync.Mutex
	driver    neo4j.DriverWithContext
	sessionID string
}

// Authenticate builds a driver with the given credentials and verifies
// connectivity, failing fast before any statement is attempted. A fresh
// session identifier is minted on every successful login.
func (c *neo4jConn) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.driver != nil {
		c.driver.Close(ctx)
		c.driver = nil
		c.sessionID = ""
	}

	driver, err := neo4j.NewDriverWithContext(c.uri,
		neo4j.BasicAuth(creds.Username, creds.Password, ""),
		func(config *neo4j.Config) {
			// One pooled connection per Conn: fan-out belongs to our pool.
			config.MaxConnectionPoolSize = 1
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return "", errors.ConnectionErrorf(err, "failed to create driver for %s", c.uri)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return "", classifyNeo4jError(err, "handshake failed")
	}

	c.driver = driver
	c.sessionID = uuid.NewString()
	c.logger.Debug("authenticated", "session_id", c.sessionID, "user", creds.Username)
	return c.sessionID, nil
}

// Execute runs one statement. The sessionID must match the current session;
// a stale identifier reports SessionInvalid so the layer above re-authenticates.
func (c *neo4jConn) Execute(ctx context.Context, sessionID, stmt string, params map[string]any) (*Result, error) {
	c.mu.Lock()
	driver := c.driver
	current := c.sessionID
	c.mu.Unlock()

	if driver == nil || current == "" {
		return nil, errors.SessionInvalidError(nil, "connection has no authenticated session")
	}
	if sessionID != current {
		return nil, errors.SessionInvalidError(nil, "session is no longer bound to this connection")
	}

	start := time.Now()
	result, err := neo4j.ExecuteQuery(ctx, driver, stmt, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		return nil, classifyNeo4jError(err, "statement execution failed")
	}

	rows := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		rows = append(rows, record.AsMap())
	}
	return &Result{
		Columns: result.Keys,
		Rows:    rows,
		Latency: time.Since(start),
	}, nil
}

// SignOut drops the session binding. Bolt has no explicit sign-out message;
// clearing the local binding and letting Close tear down the socket is the
// closest equivalent, and keeps cleanup idempotent.
func (c *neo4jConn) SignOut(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == sessionID {
		c.sessionID = ""
	}
	return nil
}

// Ping verifies connectivity of the live driver.
func (c *neo4jConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	driver := c.driver
	c.mu.Unlock()

	if driver == nil {
		return errors.ConnectionError(nil, "connection not established")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return classifyNeo4jError(err, "ping failed")
	}
	return nil
}

// Close tears down the driver.
func (c *neo4jConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = ""
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	if err != nil {
		return errors.ConnectionError(err, "failed to close connection")
	}
	return nil
}

// classifyNeo4jError maps vendor driver errors onto the stable taxonomy so
// nothing above this package imports the driver.
func classifyNeo4jError(err error, message string) error {
	if err == nil {
		return nil
	}

	if neo4j.IsNeo4jError(err) {
		code := err.(*neo4j.Neo4jError).Code
		switch {
		case strings.Contains(code, "Security.Unauthorized"),
			strings.Contains(code, "Security.CredentialsExpired"):
			return errors.AuthenticationError(err, message)
		case strings.Contains(code, "Security.AuthorizationExpired"),
			strings.Contains(code, "Session"):
			return errors.SessionInvalidError(err, message)
		case strings.HasPrefix(code, "Neo.TransientError"):
			return errors.ConnectionError(err, message)
		default:
			return errors.QueryError(err, message)
		}
	}

	if neo4j.IsConnectivityError(err) {
		return errors.ConnectionError(err, message)
	}

	return errors.ConnectionError(err, message)
}
