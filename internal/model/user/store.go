package user

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("user already exists")
)

// Directory resolves identities. The realtime hub only needs this half.
type Directory interface {
	FindByID(ctx context.Context, id string) (User, error)
}

// Store exposes user persistence for the auth service.
type Store interface {
	Directory
	FindByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, u User) (User, error)
}

// MemoryStore implements Store in process memory, used when no document store is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied users.
func NewMemoryStore(items ...User) *MemoryStore {
	s := &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
	for _, item := range items {
		item.Email = NormalizeEmail(item.Email)
		s.byID[item.ID] = item
		s.byEmail[item.Email] = item.ID
	}
	return s
}

// FindByID looks up a user by identifier.
func (s *MemoryStore) FindByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// FindByEmail looks up a user by normalized email.
func (s *MemoryStore) FindByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.byID[id], nil
}

// Create stores a new user, assigning an ID and timestamps.
func (s *MemoryStore) Create(_ context.Context, u User) (User, error) {
	u.Email = NormalizeEmail(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[u.Email]; exists {
		return User{}, ErrEmailTaken
	}

	now := time.Now().UTC()
	u.ID = uuid.NewString()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u, nil
}
