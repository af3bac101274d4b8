package chat

import (
	"context"
	"errors"

	"github.com/taskpulse/taskpulse/backend/internal/model/chat"
	"github.com/taskpulse/taskpulse/backend/internal/model/user"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var (
	ErrPeerRequired = errors.New("peer id is required")
	ErrPeerNotFound = errors.New("peer not found")
)

// Service serves stored direct messages to clients that were offline when they were sent.
type Service struct {
	messages chat.Store
	users    user.Directory
}

// NewService wires the message gateway and user directory.
func NewService(messages chat.Store, users user.Directory) *Service {
	return &Service{messages: messages, users: users}
}

// History returns the conversation between userID and peerID, oldest first.
// limit is clamped to (0, maxHistoryLimit]; zero means the default page size.
func (s *Service) History(ctx context.Context, userID, peerID string, limit int) ([]chat.Message, error) {
	if peerID == "" {
		return nil, ErrPeerRequired
	}
	if _, err := s.users.FindByID(ctx, peerID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrPeerNotFound
		}
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	return s.messages.Conversation(ctx, userID, peerID, limit)
}
