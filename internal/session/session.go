package session

import (
	"sync"
	"time"

	"github.com/codegraph/graphlink/internal/transport"
)

// State is the lifecycle state of a session.
type State int

const (
	// Unauthenticated - no server-side session exists
	Unauthenticated State = iota
	// Authenticated - session is live and usable
	Authenticated
	// Zombie - sessionID is still held locally but the owning connection
	// has been unhealthy past the zombie threshold
	Zombie
	// Closed - session released, terminal
	Closed
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Zombie:
		return "zombie"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the view of a pooled connection the session layer needs. The pool's
// connection type implements it; keeping it as an interface here means the
// session package never depends on the pool.
type Conn interface {
	ID() string
	Endpoint() string
	Ready() bool
	NotReadySince() time.Time
	Transport() transport.Conn

	// Recycle asks the pool to drop and recreate the connection. Deep
	// cleanup tier only.
	Recycle()
}

// Session is a server-side authenticated context. Its transport lifetime is
// decoupled from the connection that carries it: a reconnect invalidates the
// binding without implying the server cleaned anything up.
type Session struct {
	mu          sync.Mutex
	id          string
	space       string
	createdAt   time.Time
	lastUsedAt  time.Time
	state       State
	conn        Conn
	cleanupTier int

	// tc is the transport the session was authenticated on. Sign-out must go
	// there, not to whatever transport the connection carries later: a
	// reconnect swaps the connection's transport while the old session is
	// still awaiting cleanup.
	tc transport.Conn
}

// ID returns the current session identifier, empty after cleanup.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Space returns the logical namespace the session is bound to.
func (s *Session) Space() string {
	return s.space
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Valid reports whether the session can carry statements.
func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id != "" && s.state == Authenticated
}

// Conn returns the owning connection.
func (s *Session) Conn() Conn {
	return s.conn
}

// CreatedAt returns when the session was authenticated.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastUsedAt returns the last Touch time.
func (s *Session) LastUsedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAt
}

// Touch records usage and heals a zombie marking if the session is live again.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsedAt = time.Now()
	if s.state == Zombie && s.id != "" {
		s.state = Authenticated
		s.cleanupTier = 0
	}
}

// clear empties the local session identifier. Idempotent: id is cleared
// exactly when a cleanup attempt has been made, so repeated cleanup is safe.
func (s *Session) clear(terminal State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.state = terminal
	// The cleanup tier survives: clearing local state says nothing about the
	// server side, so monitor escalation must not restart from the top.
}

func (s *Session) markZombie() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" && s.state == Authenticated {
		s.state = Zombie
	}
}

func (s *Session) tier() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupTier
}

func (s *Session) escalate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupTier++
}

// isZombie reports whether the zombie condition holds: the session has not
// been closed while its owning connection has been not-ready longer than
// threshold. A forcibly-cleared identifier does not end the condition; the
// sign-out was best-effort and the server side may still hold the session.
func (s *Session) isZombie(threshold time.Duration, now time.Time) bool {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == Closed {
		return false
	}
	if s.conn.Ready() {
		return false
	}
	since := s.conn.NotReadySince()
	return !since.IsZero() && now.Sub(since) > threshold
}
