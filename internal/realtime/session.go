package realtime

import (
	"sync"
	"time"
)

// State is the lifecycle position of a connection.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the transport side of a session.
type Conn interface {
	// Send queues ev without blocking. It returns false when the event was
	// dropped because the connection is closed or its queue is full.
	Send(ev Event) bool
	Close() error
}

// Session is the hub's view of one live connection. The identity is bound at
// most once and never changes afterwards.
type Session struct {
	handle      string
	conn        Conn
	connectedAt time.Time

	// Written under Hub.mu and mu; readable under mu alone.
	mu       sync.RWMutex
	identity string
	state    State
	rooms    map[string]struct{}
}

func newSession(handle string, conn Conn) *Session {
	return &Session{
		handle:      handle,
		conn:        conn,
		connectedAt: time.Now(),
		rooms:       make(map[string]struct{}),
	}
}

// Handle returns the connection's unique handle.
func (s *Session) Handle() string {
	return s.handle
}

// Identity returns the bound identity and whether one is bound.
func (s *Session) Identity() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, s.state == StateAuthenticated
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ConnectedAt returns when the connection was accepted.
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

func (s *Session) bind(identity string) {
	s.mu.Lock()
	s.identity = identity
	s.state = StateAuthenticated
	s.mu.Unlock()
}

// close marks the session closed and returns the rooms it was in.
func (s *Session) close() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.rooms = map[string]struct{}{}
	return rooms
}

func (s *Session) join(room string) {
	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}
