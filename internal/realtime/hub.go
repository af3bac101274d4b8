// Package realtime is the direct-chat core: who is online, which connection
// belongs to whom, and how chat events reach them.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskpulse/taskpulse/backend/internal/metrics"
	"github.com/taskpulse/taskpulse/backend/internal/model/chat"
	"github.com/taskpulse/taskpulse/backend/internal/model/user"
)

// TokenVerifier resolves a bearer token to the identity it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Option configures a Hub.
type Option func(*Hub)

// WithTokenVerifier lets authenticate carry a bearer token. With require set,
// bare identity claims are rejected.
func WithTokenVerifier(v TokenVerifier, require bool) Option {
	return func(h *Hub) {
		h.tokens = v
		h.requireToken = require
	}
}

// Hub owns every live session. mu serializes session state transitions with
// room membership and registry changes so that presence broadcasts always
// match the registry they were derived from. Events are sent after mu is
// released.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session
	closed   bool

	registry     *Registry
	users        user.Directory
	messages     chat.Store
	tokens       TokenVerifier
	requireToken bool
	logger       *zap.Logger
}

// NewHub builds a hub over the given identity directory and message store.
func NewHub(users user.Directory, messages chat.Store, logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
		registry: NewRegistry(),
		users:    users,
		messages: messages,
		logger:   logger.Named("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the presence registry for read-only queries.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// IsOnline reports whether identity has at least one live connection.
func (h *Hub) IsOnline(identity string) bool {
	return h.registry.IsOnline(identity)
}

// Connect admits a new unauthenticated connection.
func (h *Hub) Connect(conn Conn) (*Session, error) {
	s := newSession(uuid.NewString(), conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.sessions[s.handle] = s
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	h.logger.Debug("connection opened", zap.String("handle", s.handle))
	return s, nil
}

// Disconnect closes s. It is idempotent. When s was the identity's last
// connection every other connection is told the identity went offline.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.handle]; !ok {
		h.mu.Unlock()
		return
	}
	identity, bound := s.Identity()
	delete(h.sessions, s.handle)
	for _, room := range s.close() {
		h.leaveLocked(room, s.handle)
	}

	var recipients []*Session
	if bound {
		if removed, last := h.registry.Deregister(identity, s.handle); removed && last {
			recipients = h.othersLocked(s.handle)
		}
	}
	h.mu.Unlock()

	metrics.ConnectionsActive.Dec()
	metrics.IdentitiesOnline.Set(float64(h.registry.Len()))
	h.logger.Debug("connection closed",
		zap.String("handle", s.handle),
		zap.String("identity", identity),
		zap.Bool("authenticated", bound))

	if len(recipients) > 0 {
		h.logger.Info("user offline", zap.String("identity", identity))
		h.deliver(recipients, newEvent(EventUserOffline, identity))
	}
}

// Authenticate binds the claimed identity to s. Repeating the claim for the
// identity already bound is a no-op; claiming a different one fails.
func (h *Hub) Authenticate(ctx context.Context, s *Session, claim AuthenticatePayload) error {
	identity, err := h.resolveClaim(claim)
	if err != nil {
		return err
	}

	switch current, bound := s.Identity(); {
	case s.State() == StateClosed:
		return nil
	case bound && current == identity:
		return nil
	case bound:
		return unauthorized("Connection is already authenticated as another user")
	}

	if _, err := h.users.FindByID(ctx, identity); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return newError(CodeDirectoryLookupFailed, "User not found", err)
		}
		return newError(CodeDirectoryLookupFailed, "Authentication failed", err)
	}

	h.mu.Lock()
	if _, live := h.sessions[s.handle]; !live {
		h.mu.Unlock()
		h.logger.Debug("connection closed during authentication",
			zap.String("handle", s.handle), zap.String("identity", identity))
		return nil
	}
	if current, bound := s.Identity(); bound {
		h.mu.Unlock()
		if current == identity {
			return nil
		}
		return unauthorized("Connection is already authenticated as another user")
	}
	s.bind(identity)
	h.joinLocked(roomFor(identity), s)
	var recipients []*Session
	if h.registry.Register(identity, s.handle) {
		recipients = h.othersLocked(s.handle)
	}
	h.mu.Unlock()

	metrics.IdentitiesOnline.Set(float64(h.registry.Len()))
	h.logger.Info("connection authenticated",
		zap.String("handle", s.handle), zap.String("identity", identity))

	if len(recipients) > 0 {
		h.deliver(recipients, newEvent(EventUserOnline, identity))
	}
	return nil
}

func (h *Hub) resolveClaim(claim AuthenticatePayload) (string, error) {
	if claim.Token == "" || h.tokens == nil {
		if h.requireToken {
			return "", unauthorized("Please authenticate")
		}
		if claim.UserID == "" {
			return "", protocolError("userId is required", nil)
		}
		return claim.UserID, nil
	}

	subject, err := h.tokens.Verify(claim.Token)
	if err != nil {
		return "", newError(CodeUnauthorized, "Please authenticate", err)
	}
	if claim.UserID != "" && claim.UserID != subject {
		return "", unauthorized("Token does not match the claimed user")
	}
	return subject, nil
}

// Close disconnects every session without presence broadcasts and refuses
// new connections. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		s.close()
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.rooms = make(map[string]map[string]*Session)
	h.registry.Reset()
	h.mu.Unlock()

	metrics.ConnectionsActive.Sub(float64(len(sessions)))
	metrics.IdentitiesOnline.Set(0)
	for _, s := range sessions {
		if err := s.conn.Close(); err != nil {
			h.logger.Debug("close connection", zap.String("handle", s.handle), zap.Error(err))
		}
	}
	h.logger.Info("realtime hub closed", zap.Int("connections", len(sessions)))
}

// roomFor names the room that fans out to every connection of identity.
func roomFor(identity string) string {
	return "user:" + identity
}

func (h *Hub) joinLocked(room string, s *Session) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		h.rooms[room] = members
	}
	members[s.handle] = s
	s.join(room)
}

func (h *Hub) leaveLocked(room, handle string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, handle)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// othersLocked returns every live session except the one with handle.
func (h *Hub) othersLocked(handle string) []*Session {
	out := make([]*Session, 0, len(h.sessions))
	for k, s := range h.sessions {
		if k != handle {
			out = append(out, s)
		}
	}
	return out
}

// members snapshots room, leaving out except.
func (h *Hub) members(room, except string) []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[room]
	out := make([]*Session, 0, len(members))
	for k, s := range members {
		if k != except {
			out = append(out, s)
		}
	}
	return out
}

func (h *Hub) isLive(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[s.handle]
	return ok
}

func (h *Hub) deliver(targets []*Session, ev Event) {
	for _, t := range targets {
		h.send(t, ev)
	}
}

func (h *Hub) send(s *Session, ev Event) {
	if !s.conn.Send(ev) {
		metrics.DroppedEvents.Inc()
		h.logger.Debug("event dropped", zap.String("handle", s.handle), zap.String("type", ev.Type))
		return
	}
	metrics.EventsSent.WithLabelValues(ev.Type).Inc()
}
