package realtime

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/taskpulse/taskpulse/backend/internal/model/chat"
	"github.com/taskpulse/taskpulse/backend/internal/validation"
)

// Inbound event types.
const (
	EventAuthenticate = "authenticate"
	EventSendMessage  = "sendMessage"
	EventMarkAsRead   = "markAsRead"
	EventTyping       = "typing"
)

// Outbound event types. EventTyping is used in both directions.
const (
	EventUserOnline  = "userOnline"
	EventUserOffline = "userOffline"
	EventNewMessage  = "newMessage"
	EventMessageSent = "messageSent"
	EventMessageRead = "messageRead"
	EventError       = "error"
)

// Frame is an inbound wire message.
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Event is an outbound wire message.
type Event struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func newEvent(typ string, data any) Event {
	return Event{Type: typ, Data: data, Timestamp: time.Now().Unix()}
}

// AuthenticatePayload is an identity claim. On the wire it is either a bare
// identity string or an object carrying a bearer token.
type AuthenticatePayload struct {
	UserID string `json:"userId" validate:"max=128"`
	Token  string `json:"token" validate:"max=4096"`
}

func (p *AuthenticatePayload) UnmarshalJSON(data []byte) error {
	if s, ok, err := bareString(data); ok {
		*p = AuthenticatePayload{UserID: s}
		return err
	}
	type plain AuthenticatePayload
	return json.Unmarshal(data, (*plain)(p))
}

// SendMessagePayload asks for a direct message to be stored and delivered.
type SendMessagePayload struct {
	ReceiverID string    `json:"receiverId" validate:"required,max=128"`
	Content    string    `json:"content" validate:"required,max=10000"`
	Type       chat.Kind `json:"type" validate:"omitempty,oneof=text image file voice"`
	FileURL    string    `json:"fileUrl" validate:"omitempty,url,max=2048"`
}

// normalize applies the default kind and enforces the attachment rule:
// non-text messages must reference a file and text messages must not.
func (p *SendMessagePayload) normalize() error {
	if strings.TrimSpace(p.Content) == "" {
		return protocolError("content is required", nil)
	}
	if p.Type == "" {
		p.Type = chat.KindText
	}
	if p.Type.NeedsAttachment() && p.FileURL == "" {
		return protocolError("fileUrl is required for "+string(p.Type)+" messages", nil)
	}
	if !p.Type.NeedsAttachment() && p.FileURL != "" {
		return protocolError("fileUrl is not allowed for text messages", nil)
	}
	return nil
}

// MarkAsReadPayload names a message. On the wire it is a bare id string or {"messageId": ...}.
type MarkAsReadPayload struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
}

func (p *MarkAsReadPayload) UnmarshalJSON(data []byte) error {
	if s, ok, err := bareString(data); ok {
		*p = MarkAsReadPayload{MessageID: s}
		return err
	}
	type plain MarkAsReadPayload
	return json.Unmarshal(data, (*plain)(p))
}

// TypingPayload toggles the typing indicator shown to ReceiverID.
type TypingPayload struct {
	ReceiverID string `json:"receiverId" validate:"required,max=128"`
	IsTyping   bool   `json:"isTyping"`
}

// TypingNotice is the outbound typing payload.
type TypingNotice struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// decodePayload unmarshals and validates a frame's data into v.
func decodePayload(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return protocolError("missing payload", nil)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return protocolError("malformed payload", err)
	}
	if err := validation.Struct(v); err != nil {
		return protocolError(err.Error(), nil)
	}
	return nil
}

func bareString(data []byte) (string, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false, nil
	}
	var s string
	err := json.Unmarshal(trimmed, &s)
	return s, true, err
}
