// Package client is the top-level facade: it wires the pool, session
// manager, dispatcher, retry strategy, circuit breaker, and batch service
// into one handle applications use to talk to the graph.
package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/codegraph/graphlink/internal/batch"
	"github.com/codegraph/graphlink/internal/breaker"
	"github.com/codegraph/graphlink/internal/cache"
	"github.com/codegraph/graphlink/internal/config"
	"github.com/codegraph/graphlink/internal/dispatch"
	"github.com/codegraph/graphlink/internal/errors"
	"github.com/codegraph/graphlink/internal/events"
	"github.com/codegraph/graphlink/internal/pool"
	"github.com/codegraph/graphlink/internal/query"
	"github.com/codegraph/graphlink/internal/retry"
	"github.com/codegraph/graphlink/internal/session"
	"github.com/codegraph/graphlink/internal/transport"
)

// Operation keys for circuit accounting. Each logical operation trips and
// recovers independently.
const (
	opExecute      = "execute"
	opInsertNode   = "insert_node"
	opUpdateNode   = "update_node"
	opDeleteNode   = "delete_node"
	opInsertRel    = "insert_relationship"
	opRelatedNodes = "related_nodes"
	opShortestPath = "shortest_path"
	opEnsureSpace  = "ensure_space"
	opBatch        = "batch"
)

// Client is a resilient handle to a remote graph database.
type Client struct {
	config     *config.Config
	driver     transport.Driver
	sessions   *session.Manager
	pool       *pool.Pool
	dispatcher *dispatch.Dispatcher
	breaker    *breaker.Handler
	batches    *batch.Service
	store      cache.Store
	bus        *events.Bus
	logger     *slog.Logger
}

// Option overrides a wiring default.
type Option func(*Client)

// WithDriver replaces the transport driver; tests use this to substitute the
// in-memory mock.
func WithDriver(d transport.Driver) Option {
	return func(c *Client) { c.driver = d }
}

// WithCacheStore replaces the fallback cache store.
func WithCacheStore(s cache.Store) Option {
	return func(c *Client) { c.store = s }
}

// New wires a client from configuration. Connect must be called before any
// statement runs.
func New(cfg *config.Config, creds transport.Credentials, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, errors.SeverityCritical, "invalid configuration")
	}

	c := &Client{
		config: cfg,
		bus:    events.NewBus(),
		logger: slog.Default().With("component", "client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.driver == nil {
		c.driver = transport.NewNeo4jDriver(cfg.Space)
	}

	strategy := retry.New(retry.Config{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		BaseDelay:     cfg.Retry.BaseDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		Jitter:        cfg.Retry.Jitter,
	})

	c.sessions = session.NewManager(session.Config{
		Space:           cfg.Space,
		Credentials:     creds,
		MonitorInterval: cfg.Session.MonitorInterval,
		ZombieThreshold: cfg.Session.ZombieThreshold,
		CleanupTimeout:  cfg.Session.CleanupTimeout,
	})

	c.pool = pool.New(pool.Config{
		Endpoints:    cfg.ParsedEndpoints(),
		PoolSize:     cfg.Pool.Size,
		PingInterval: cfg.Pool.PingInterval,
		PingTimeout:  cfg.Pool.PingTimeout,
	}, c.driver, c.sessions, strategy, c.bus)

	c.dispatcher = dispatch.New(dispatch.Config{
		BufferSize:     cfg.Dispatch.BufferSize,
		ExecuteTimeout: cfg.Dispatch.ExecuteTimeout,
		MaxQPS:         cfg.Dispatch.MaxQPS,
	}, c.pool, c.sessions)

	if c.store == nil && cfg.Breaker.Strategy == string(breaker.FallbackCache) {
		if cfg.Cache.RedisURL != "" {
			store, err := cache.NewRedisStore(context.Background(), cfg.Cache.RedisURL, "", cfg.Cache.TTL)
			if err != nil {
				c.logger.Warn("redis fallback store unavailable, using in-memory store", "error", err)
				c.store = cache.NewMemoryStore(cfg.Cache.TTL)
			} else {
				c.store = store
			}
		} else {
			c.store = cache.NewMemoryStore(cfg.Cache.TTL)
		}
	}

	c.breaker = breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		CooldownTimeout:  cfg.Breaker.CooldownTimeout,
		Strategy:         breaker.Fallback(cfg.Breaker.Strategy),
	}, strategy, c.store)

	c.batches = batch.NewService(batch.Config{Space: cfg.Space}, c.dispatcher)

	return c, nil
}

// Connect establishes the pool and starts the session monitor. Partial
// availability is not an error: connections that failed their handshake keep
// retrying in the background.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.pool.Initialize(ctx); err != nil {
		return err
	}
	c.sessions.StartMonitor()
	return nil
}

// Events returns the bus carrying connection lifecycle notifications.
func (c *Client) Events() *events.Bus {
	return c.bus
}

// Execute runs a raw statement under circuit and retry protection.
func (c *Client) Execute(ctx context.Context, command string, params map[string]any) (*transport.Result, error) {
	return c.breaker.Execute(ctx, opExecute, func(ctx context.Context) (*transport.Result, error) {
		return c.dispatcher.Run(ctx, command, params)
	})
}

// InsertNode creates or updates a single node.
func (c *Client) InsertNode(ctx context.Context, node query.GraphNode) error {
	node.Properties = c.stamp(node.Properties)
	stmt, err := query.InsertNode(node)
	if err != nil {
		return errors.QueryError(err, "invalid node")
	}
	return c.run(ctx, opInsertNode, stmt)
}

// UpdateNode overwrites properties of an existing node.
func (c *Client) UpdateNode(ctx context.Context, node query.GraphNode) error {
	stmt, err := query.UpdateNode(node)
	if err != nil {
		return errors.QueryError(err, "invalid node update")
	}
	return c.run(ctx, opUpdateNode, stmt)
}

// DeleteNode removes a node and its relationships.
func (c *Client) DeleteNode(ctx context.Context, label, id string) error {
	stmt, err := query.DeleteNode(label, id)
	if err != nil {
		return errors.QueryError(err, "invalid node deletion")
	}
	return c.run(ctx, opDeleteNode, stmt)
}

// InsertRelationship creates or updates a single relationship.
func (c *Client) InsertRelationship(ctx context.Context, rel query.GraphRelationship) error {
	rel.Properties = c.stamp(rel.Properties)
	stmt, err := query.InsertRelationship(rel)
	if err != nil {
		return errors.QueryError(err, "invalid relationship")
	}
	return c.run(ctx, opInsertRel, stmt)
}

// RelatedNodes returns nodes reachable from id within maxHops over the given
// relationship types (all types when empty).
func (c *Client) RelatedNodes(ctx context.Context, id string, maxHops int, relTypes []string) (*transport.Result, error) {
	stmt, err := query.RelatedNodes(id, maxHops, relTypes)
	if err != nil {
		return nil, errors.QueryError(err, "invalid traversal")
	}
	return c.breaker.Execute(ctx, opRelatedNodes, func(ctx context.Context) (*transport.Result, error) {
		return c.dispatcher.Run(ctx, stmt.Text, stmt.Params)
	})
}

// ShortestPath returns a shortest path between two nodes, bounded by maxHops.
func (c *Client) ShortestPath(ctx context.Context, sourceID, targetID string, maxHops int) (*transport.Result, error) {
	stmt, err := query.ShortestPath(sourceID, targetID, maxHops)
	if err != nil {
		return nil, errors.QueryError(err, "invalid path query")
	}
	return c.breaker.Execute(ctx, opShortestPath, func(ctx context.Context) (*transport.Result, error) {
		return c.dispatcher.Run(ctx, stmt.Text, stmt.Params)
	})
}

// InsertNodes batch-inserts nodes grouped by label.
func (c *Client) InsertNodes(ctx context.Context, nodes []query.GraphNode) (*batch.Result, error) {
	var result *batch.Result
	_, err := c.breaker.Execute(ctx, opBatch, func(ctx context.Context) (*transport.Result, error) {
		var batchErr error
		result, batchErr = c.batches.InsertNodes(ctx, nodes)
		return nil, batchErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// InsertRelationships batch-inserts relationships grouped by type.
func (c *Client) InsertRelationships(ctx context.Context, rels []query.GraphRelationship) (*batch.Result, error) {
	var result *batch.Result
	_, err := c.breaker.Execute(ctx, opBatch, func(ctx context.Context) (*transport.Result, error) {
		var batchErr error
		result, batchErr = c.batches.InsertRelationships(ctx, rels)
		return nil, batchErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EnsureSpace provisions the configured logical namespace.
func (c *Client) EnsureSpace(ctx context.Context) error {
	stmt, err := query.EnsureSpace(c.config.Space)
	if err != nil {
		return errors.ConfigErrorf("invalid space name %q", c.config.Space)
	}
	return c.run(ctx, opEnsureSpace, stmt)
}

// Stats reports pool, queue, and circuit health in one snapshot.
type Stats struct {
	Pool     pool.Stats
	Queued   int
	Circuits []breaker.Stats
}

// Stats returns a point-in-time health snapshot.
func (c *Client) Stats() Stats {
	return Stats{
		Pool:     c.pool.Stats(),
		Queued:   c.dispatcher.QueueDepth(),
		Circuits: c.breaker.Snapshot(),
	}
}

// Close drains the dispatcher, stops the session monitor, and releases every
// connection. Safe to call once; subsequent statements fail fast.
func (c *Client) Close(ctx context.Context) error {
	if err := c.dispatcher.Close(ctx); err != nil {
		c.logger.Warn("dispatcher close incomplete", "error", err)
	}
	c.sessions.Stop()
	err := c.pool.Close(ctx)
	if c.store != nil {
		c.store.Close()
	}
	return err
}

func (c *Client) run(ctx context.Context, key string, stmt query.Statement) error {
	_, err := c.breaker.Execute(ctx, key, func(ctx context.Context) (*transport.Result, error) {
		return c.dispatcher.Run(ctx, stmt.Text, stmt.Params)
	})
	return err
}

// stamp attaches the configured space to a property map that lacks one.
func (c *Client) stamp(props map[string]any) map[string]any {
	if c.config.Space == "" {
		return props
	}
	if _, ok := props["space"]; ok {
		return props
	}
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["space"] = c.config.Space
	return out
}

// WaitReady blocks until at least one connection is ready or the deadline
// passes. Useful right after Connect when the caller needs a usable pool.
func (c *Client) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if c.pool.Stats().Ready > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.TimeoutErrorf("no connection became ready within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
