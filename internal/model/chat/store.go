package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrMessageNotFound = errors.New("message not found")

// Store is the message persistence gateway.
type Store interface {
	Create(ctx context.Context, m Message) (Message, error)
	FindByID(ctx context.Context, id string) (Message, error)
	Save(ctx context.Context, m Message) (Message, error)
	// Conversation returns messages exchanged between a and b, oldest first.
	// A non-positive limit returns everything.
	Conversation(ctx context.Context, a, b string, limit int) ([]Message, error)
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Message
	order []string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Message)}
}

// Create assigns an ID and timestamps and stores the message unread.
func (s *MemoryStore) Create(_ context.Context, m Message) (Message, error) {
	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.IsRead = false
	m.CreatedAt = now
	m.UpdatedAt = now

	s.mu.Lock()
	s.items[m.ID] = m
	s.order = append(s.order, m.ID)
	s.mu.Unlock()
	return m, nil
}

// FindByID looks up a message.
func (s *MemoryStore) FindByID(_ context.Context, id string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.items[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return m, nil
}

// Save overwrites an existing message and bumps UpdatedAt.
func (s *MemoryStore) Save(_ context.Context, m Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[m.ID]; !ok {
		return Message{}, ErrMessageNotFound
	}
	m.UpdatedAt = time.Now().UTC()
	s.items[m.ID] = m
	return m, nil
}

// Conversation returns the most recent limit messages between a and b, oldest first.
func (s *MemoryStore) Conversation(_ context.Context, a, b string, limit int) ([]Message, error) {
	s.mu.RLock()
	out := make([]Message, 0)
	for _, id := range s.order {
		m := s.items[id]
		if (m.Sender == a && m.Receiver == b) || (m.Sender == b && m.Receiver == a) {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
