package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/taskpulse/taskpulse/backend/internal/metrics"
)

// Dispatch decodes one inbound frame from s and runs it. A failure is
// reported back to s as an error event and never affects other sessions.
func (h *Hub) Dispatch(ctx context.Context, s *Session, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		metrics.EventsReceived.WithLabelValues("invalid").Inc()
		h.reject(s, "", protocolError("Malformed frame", err))
		return
	}
	metrics.EventsReceived.WithLabelValues(eventLabel(frame.Type)).Inc()

	if err := h.handle(ctx, s, frame); err != nil {
		h.reject(s, frame.Type, err)
	}
}

func (h *Hub) handle(ctx context.Context, s *Session, frame Frame) error {
	switch frame.Type {
	case EventAuthenticate:
		var p AuthenticatePayload
		if err := decodePayload(frame.Data, &p); err != nil {
			return err
		}
		return h.Authenticate(ctx, s, p)
	case EventSendMessage:
		var p SendMessagePayload
		if err := decodePayload(frame.Data, &p); err != nil {
			return err
		}
		_, err := h.SendMessage(ctx, s, p)
		return err
	case EventMarkAsRead:
		var p MarkAsReadPayload
		if err := decodePayload(frame.Data, &p); err != nil {
			return err
		}
		return h.MarkAsRead(ctx, s, p.MessageID)
	case EventTyping:
		var p TypingPayload
		if err := decodePayload(frame.Data, &p); err != nil {
			return err
		}
		return h.SetTyping(s, p)
	case "":
		return protocolError("Event type is required", nil)
	default:
		return protocolError("Unknown event type: "+frame.Type, nil)
	}
}

func (h *Hub) reject(s *Session, eventType string, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(CodePersistenceFailure, "Internal error", err)
	}
	metrics.EventErrors.WithLabelValues(string(e.Code)).Inc()

	fields := []zap.Field{
		zap.String("handle", s.handle),
		zap.String("event", eventType),
		zap.String("code", string(e.Code)),
		zap.Error(err),
	}
	if e.Code == CodePersistenceFailure {
		h.logger.Error("event failed", fields...)
	} else {
		h.logger.Warn("event rejected", fields...)
	}

	if h.isLive(s) {
		h.send(s, newEvent(EventError, e.Message))
	}
}

// eventLabel bounds metric cardinality to the known inbound types.
func eventLabel(t string) string {
	switch t {
	case EventAuthenticate, EventSendMessage, EventMarkAsRead, EventTyping:
		return t
	default:
		return "unknown"
	}
}
