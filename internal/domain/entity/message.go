package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText        MessageType = "text"
	MessageTypeImage       MessageType = "image"
	MessageTypeProductLink MessageType = "product_link"
	MessageTypeSystem      MessageType = "system"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusDeleted   MessageStatus = "deleted"
)

// DeletedMessagePlaceholder replaces the content of a soft-deleted message.
// The message itself stays in the sequence so surrounding positions are stable.
const DeletedMessagePlaceholder = "This message has been deleted"

// provisionalIDPrefix namespaces client-generated ids so they can never
// collide with server-confirmed ids.
const provisionalIDPrefix = "local-"

type Message struct {
	ID               string        `json:"id"`
	ConversationID   string        `json:"conversation_id"`
	SenderID         string        `json:"sender_id"`
	SenderName       string        `json:"sender_name,omitempty"`
	SenderAvatar     string        `json:"sender_avatar,omitempty"`
	Content          string        `json:"content"`
	Type             MessageType   `json:"type"`
	Attachments      []string      `json:"attachments,omitempty"`
	Status           MessageStatus `json:"status"`
	SentAt           time.Time     `json:"sent_at"`
	ReplyToMessageID string        `json:"reply_to_message_id,omitempty"`
	ProductID        string        `json:"product_id,omitempty"`
}

// NewProvisionalID generates a client-side correlation id for an optimistic
// message that has not been confirmed by the server yet.
func NewProvisionalID() string {
	return provisionalIDPrefix + uuid.New().String()
}

func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalIDPrefix)
}

// IsProvisional reports whether the message is still an unconfirmed
// optimistic placeholder.
func (m *Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

// statusRank orders message statuses for the monotonic-advance rule.
func statusRank(s MessageStatus) int {
	switch s {
	case MessageStatusSent:
		return 1
	case MessageStatusDelivered:
		return 2
	case MessageStatusRead:
		return 3
	case MessageStatusDeleted:
		return 4
	default:
		return 0
	}
}

// AdvanceStatus applies a status transition, ignoring regressions. A message
// never moves backwards (read stays read) and deleted is terminal.
func (m *Message) AdvanceStatus(next MessageStatus) {
	if m.Status == MessageStatusDeleted {
		return
	}
	if next == MessageStatusDeleted || statusRank(next) > statusRank(m.Status) {
		m.Status = next
	}
}
