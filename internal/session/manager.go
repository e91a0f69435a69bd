package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codegraph/graphlink/internal/errors"
	"github.com/codegraph/graphlink/internal/transport"
)

// Config configures the session manager.
type Config struct {
	// Space is the logical namespace sessions execute against.
	Space string

	// Credentials used for every authentication.
	Credentials transport.Credentials

	// MonitorInterval is the zombie scan period.
	MonitorInterval time.Duration

	// ZombieThreshold is how long a connection must be not-ready before its
	// session is flagged zombie.
	ZombieThreshold time.Duration

	// CleanupTimeout bounds each best-effort sign-out attempt.
	CleanupTimeout time.Duration
}

// DefaultConfig returns the baseline session policy.
func DefaultConfig() Config {
	return Config{
		MonitorInterval: 30 * time.Second,
		ZombieThreshold: 60 * time.Second,
		CleanupTimeout:  5 * time.Second,
	}
}

// Manager owns authentication state for every pooled connection. Cleanup is
// attempted regardless of transport health: skipping sign-out when the
// connection looks unhealthy is exactly how server-side sessions leak.
type Manager struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // keyed by connection ID

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(config Config) *Manager {
	if config.MonitorInterval <= 0 {
		config.MonitorInterval = 30 * time.Second
	}
	if config.ZombieThreshold <= 0 {
		config.ZombieThreshold = 60 * time.Second
	}
	if config.CleanupTimeout <= 0 {
		config.CleanupTimeout = 5 * time.Second
	}
	return &Manager{
		config:   config,
		logger:   slog.Default().With("component", "session"),
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// Authenticate performs login on the connection and binds the resulting
// session to it. An existing binding for the connection is cleaned up first.
func (m *Manager) Authenticate(ctx context.Context, c Conn) (*Session, error) {
	if prev := m.Lookup(c.ID()); prev != nil && prev.ID() != "" {
		m.ForceCleanup(ctx, prev)
	}

	tc := c.Transport()
	id, err := tc.Authenticate(ctx, m.config.Credentials)
	if err != nil {
		if errors.KindOf(err) == errors.KindAuthentication {
			return nil, err
		}
		return nil, errors.ConnectionErrorf(err, "authentication transport failure on %s", c.Endpoint())
	}

	now := time.Now()
	s := &Session{
		id:         id,
		space:      m.config.Space,
		createdAt:  now,
		lastUsedAt: now,
		state:      Authenticated,
		conn:       c,
		tc:         tc,
	}

	m.mu.Lock()
	m.sessions[c.ID()] = s
	m.mu.Unlock()

	m.logger.Debug("session authenticated",
		"connection_id", c.ID(),
		"session_id", id,
		"space", m.config.Space)
	return s, nil
}

// Lookup returns the session bound to a connection, nil when none.
func (m *Manager) Lookup(connID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[connID]
}

// Release attempts sign-out and closes the session. The sign-out is issued
// regardless of the connection's transport state; a dead transport makes the
// attempt fail fast, which is still an attempt, and the local identifier is
// cleared either way.
func (m *Manager) Release(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	id := s.ID()
	if id == "" {
		s.clear(Closed)
		return nil
	}

	err := s.tc.SignOut(ctx, id)
	s.clear(Closed)
	if err != nil {
		m.logger.Warn("session sign-out failed, local state cleared anyway",
			"connection_id", s.conn.ID(),
			"session_id", id,
			"error", err)
		return errors.SessionInvalidError(err, "sign-out failed")
	}

	m.logger.Debug("session released", "connection_id", s.conn.ID(), "session_id", id)
	return nil
}

// ForceCleanup is the best-effort variant: sign-out errors are swallowed and
// the local identifier is always cleared. Safe to invoke repeatedly.
func (m *Manager) ForceCleanup(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	id := s.ID()
	// Always clear local state, whatever the sign-out below does.
	defer s.clear(Unauthenticated)

	if id == "" {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(ctx, m.config.CleanupTimeout)
	defer cancel()

	if err := s.tc.SignOut(cleanupCtx, id); err != nil {
		m.logger.Warn("forced cleanup sign-out failed",
			"connection_id", s.conn.ID(),
			"session_id", id,
			"error", err)
		return
	}
	m.logger.Debug("forced cleanup complete", "connection_id", s.conn.ID(), "session_id", id)
}

// ReleaseAsync hands a session off for background cleanup. Used by the pool
// during reconnect, where the old session must never be silently dropped.
func (m *Manager) ReleaseAsync(s *Session) {
	if s == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.config.CleanupTimeout)
		defer cancel()
		m.ForceCleanup(ctx, s)
	}()
}

// Recover handles a server-reported invalid session: forced cleanup followed
// by re-authentication. Unrelated in-flight sessions are untouched.
func (m *Manager) Recover(ctx context.Context, c Conn) (*Session, error) {
	if s := m.Lookup(c.ID()); s != nil {
		m.ForceCleanup(ctx, s)
	}
	return m.Authenticate(ctx, c)
}

// Drop removes and cleans the binding for a connection, for pool shutdown.
func (m *Manager) Drop(ctx context.Context, connID string) {
	m.mu.Lock()
	s := m.sessions[connID]
	delete(m.sessions, connID)
	m.mu.Unlock()
	if s != nil {
		m.ForceCleanup(ctx, s)
	}
}

// StartMonitor launches the background zombie scan.
func (m *Manager) StartMonitor() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.MonitorInterval)
		defer ticker.Stop()

		m.logger.Info("session monitor started",
			"interval", m.config.MonitorInterval,
			"zombie_threshold", m.config.ZombieThreshold)

		for {
			select {
			case <-m.stopCh:
				m.logger.Info("session monitor stopped")
				return
			case <-ticker.C:
				m.scan()
			}
		}
	}()
}

// Stop halts the monitor and waits for in-flight cleanups.
func (m *Manager) Stop() {
	m.stopped.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// scan classifies zombies and escalates through cleanup tiers: light (local
// state reset) -> medium (forced cleanup) -> deep (drop and recreate the
// owning connection). Each tier gets one monitor cycle to clear the flag
// before the next fires.
func (m *Manager) scan() {
	m.mu.Lock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, s := range candidates {
		if !s.isZombie(m.config.ZombieThreshold, now) {
			continue
		}

		tier := s.tier()
		s.escalate()

		switch tier {
		case 0:
			s.markZombie()
			m.logger.Warn("zombie session detected, local state reset",
				"connection_id", s.conn.ID(),
				"session_id", s.ID())
		case 1:
			m.logger.Warn("zombie session persists, forcing cleanup",
				"connection_id", s.conn.ID(),
				"session_id", s.ID())
			ctx, cancel := context.WithTimeout(context.Background(), m.config.CleanupTimeout)
			m.ForceCleanup(ctx, s)
			cancel()
		default:
			m.logger.Error("zombie session survived cleanup, recycling connection",
				"connection_id", s.conn.ID())
			s.conn.Recycle()
		}
	}
}
