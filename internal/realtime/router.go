package realtime

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/taskpulse/taskpulse/backend/internal/model/chat"
	"github.com/taskpulse/taskpulse/backend/internal/model/user"
)

// SendMessage persists a message from the identity bound to s and delivers it
// to every connection of the receiver, then confirms it to s.
func (h *Hub) SendMessage(ctx context.Context, s *Session, p SendMessagePayload) (chat.Message, error) {
	sender, ok := s.Identity()
	if !ok {
		return chat.Message{}, unauthorized("User not authenticated")
	}
	if err := p.normalize(); err != nil {
		return chat.Message{}, err
	}
	if _, err := h.users.FindByID(ctx, p.ReceiverID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return chat.Message{}, newError(CodeDirectoryLookupFailed, "Receiver not found", err)
		}
		return chat.Message{}, newError(CodeDirectoryLookupFailed, "Failed to send message", err)
	}

	saved, err := h.messages.Create(ctx, chat.Message{
		Sender:   sender,
		Receiver: p.ReceiverID,
		Content:  p.Content,
		Type:     p.Type,
		FileURL:  p.FileURL,
	})
	if err != nil {
		return chat.Message{}, newError(CodePersistenceFailure, "Failed to send message", err)
	}

	h.deliver(h.members(roomFor(saved.Receiver), s.handle), newEvent(EventNewMessage, saved))
	if h.isLive(s) {
		h.send(s, newEvent(EventMessageSent, saved))
	} else {
		h.logger.Debug("sender left before confirmation",
			zap.String("handle", s.handle), zap.String("message", saved.ID))
	}
	return saved, nil
}

// MarkAsRead flags a message read on behalf of its receiver and tells every
// connection of the sender.
func (h *Hub) MarkAsRead(ctx context.Context, s *Session, messageID string) error {
	reader, ok := s.Identity()
	if !ok {
		return unauthorized("User not authenticated")
	}

	m, err := h.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, chat.ErrMessageNotFound) {
			return newError(CodeNotFound, "Message not found", err)
		}
		return newError(CodePersistenceFailure, "Failed to mark message as read", err)
	}
	if m.Receiver != reader {
		return unauthorized("Only the receiver can mark a message as read")
	}

	m.IsRead = true
	if _, err := h.messages.Save(ctx, m); err != nil {
		if errors.Is(err, chat.ErrMessageNotFound) {
			return newError(CodeNotFound, "Message not found", err)
		}
		return newError(CodePersistenceFailure, "Failed to mark message as read", err)
	}

	h.deliver(h.members(roomFor(m.Sender), ""), newEvent(EventMessageRead, m.ID))
	return nil
}

// SetTyping relays a typing indicator to the receiver's connections. Nothing
// is stored.
func (h *Hub) SetTyping(s *Session, p TypingPayload) error {
	sender, ok := s.Identity()
	if !ok {
		return unauthorized("User not authenticated")
	}
	notice := TypingNotice{UserID: sender, IsTyping: p.IsTyping}
	h.deliver(h.members(roomFor(p.ReceiverID), s.handle), newEvent(EventTyping, notice))
	return nil
}
