package task

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("task not found")

// Store persists tasks. Every lookup is scoped to the owning user.
type Store interface {
	Create(ctx context.Context, t Task) (Task, error)
	Find(ctx context.Context, filter Filter) ([]Task, error)
	FindByID(ctx context.Context, id, userID string) (Task, error)
	Update(ctx context.Context, id, userID string, update Update) (Task, error)
	Delete(ctx context.Context, id, userID string) (Task, error)
	Stats(ctx context.Context, userID string) (Stats, error)
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Task
	order map[string]uint64
	next  uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Task),
		order: make(map[string]uint64),
	}
}

// Create stores t with a fresh ID and timestamps.
func (s *MemoryStore) Create(_ context.Context, t Task) (Task, error) {
	now := time.Now().UTC()
	t.ID = uuid.NewString()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Tags = append([]string{}, t.Tags...)

	s.mu.Lock()
	s.next++
	s.items[t.ID] = t
	s.order[t.ID] = s.next
	s.mu.Unlock()
	return t, nil
}

// Find returns the tasks matching filter, newest first.
func (s *MemoryStore) Find(_ context.Context, filter Filter) ([]Task, error) {
	search := strings.ToLower(filter.Search)

	s.mu.RLock()
	out := make([]Task, 0, len(s.items))
	for _, t := range s.items {
		if t.User != filter.User {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Title), search) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	s.mu.RUnlock()
	return out, nil
}

// FindByID returns the task if it exists and belongs to userID.
func (s *MemoryStore) FindByID(_ context.Context, id, userID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok || t.User != userID {
		return Task{}, ErrNotFound
	}
	return t, nil
}

// Update applies update to the owned task and returns the result.
func (s *MemoryStore) Update(_ context.Context, id, userID string, update Update) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok || t.User != userID {
		return Task{}, ErrNotFound
	}
	update.Apply(&t)
	t.UpdatedAt = time.Now().UTC()
	s.items[id] = t
	return t, nil
}

// Delete removes the owned task and returns what was removed.
func (s *MemoryStore) Delete(_ context.Context, id, userID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[id]
	if !ok || t.User != userID {
		return Task{}, ErrNotFound
	}
	delete(s.items, id)
	delete(s.order, id)
	return t, nil
}

// Stats aggregates counts for userID.
func (s *MemoryStore) Stats(_ context.Context, userID string) (Stats, error) {
	byCategory := map[string]int{}
	byPriority := map[string]int{}
	var stats Stats

	s.mu.RLock()
	for _, t := range s.items {
		if t.User != userID {
			continue
		}
		stats.TotalTasks++
		switch t.Status {
		case StatusCompleted:
			stats.CompletedTasks++
		case StatusPending:
			stats.PendingTasks++
		}
		byCategory[string(t.Category)]++
		byPriority[string(t.Priority)]++
	}
	s.mu.RUnlock()

	stats.CompletionRate = CompletionRate(stats.CompletedTasks, stats.TotalTasks)
	stats.TasksByCategory = buckets(byCategory)
	stats.TasksByPriority = buckets(byPriority)
	return stats, nil
}

// buckets flattens counts, largest first, ties broken by key for stable output.
func buckets(counts map[string]int) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for k, c := range counts {
		out = append(out, Bucket{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
