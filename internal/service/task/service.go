package task

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/taskpulse/taskpulse/backend/internal/model/task"
)

var (
	ErrDueDateInPast = errors.New("due date cannot be set in the past")
	ErrTitleRequired = errors.New("task title is required")
)

// Service applies task rules on top of the store.
type Service struct {
	store task.Store
	now   func() time.Time
}

// NewService wraps store.
func NewService(store task.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Create validates and stores a new task owned by userID.
func (s *Service) Create(ctx context.Context, userID string, t task.Task) (task.Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return task.Task{}, ErrTitleRequired
	}
	if err := s.checkDueDate(t.DueDate); err != nil {
		return task.Task{}, err
	}
	t.Description = strings.TrimSpace(t.Description)
	t.Tags = trimTags(t.Tags)
	t.User = userID
	t.ApplyDefaults()
	return s.store.Create(ctx, t)
}

// List returns the user's tasks, newest first.
func (s *Service) List(ctx context.Context, filter task.Filter) ([]task.Task, error) {
	return s.store.Find(ctx, filter)
}

// Get returns one owned task.
func (s *Service) Get(ctx context.Context, userID, id string) (task.Task, error) {
	return s.store.FindByID(ctx, id, userID)
}

// Update applies a partial update to an owned task.
func (s *Service) Update(ctx context.Context, userID, id string, update task.Update) (task.Task, error) {
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			update.Title = nil
		} else {
			update.Title = &title
		}
	}
	if update.Description != nil {
		desc := strings.TrimSpace(*update.Description)
		update.Description = &desc
	}
	if update.Tags != nil {
		update.Tags = trimTags(update.Tags)
	}
	if err := s.checkDueDate(update.DueDate); err != nil {
		return task.Task{}, err
	}
	return s.store.Update(ctx, id, userID, update)
}

// Delete removes an owned task.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	_, err := s.store.Delete(ctx, id, userID)
	return err
}

// Stats summarizes the user's tasks.
func (s *Service) Stats(ctx context.Context, userID string) (task.Stats, error) {
	return s.store.Stats(ctx, userID)
}

func (s *Service) checkDueDate(due *time.Time) error {
	if due != nil && due.Before(s.now()) {
		return ErrDueDateInPast
	}
	return nil
}

func trimTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}
