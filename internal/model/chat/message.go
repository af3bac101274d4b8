package chat

import "time"

// Kind classifies message content.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
	KindVoice Kind = "voice"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindVoice:
		return true
	}
	return false
}

// NeedsAttachment reports whether messages of this kind must reference a file.
func (k Kind) NeedsAttachment() bool {
	return k != KindText
}

// Message is a direct message between two users.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Content   string    `json:"content"`
	Type      Kind      `json:"type"`
	FileURL   string    `json:"fileUrl,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
