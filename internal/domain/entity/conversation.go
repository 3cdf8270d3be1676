package entity

import "time"

// Participant is a member of a conversation as shown in the directory list.
type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Online      bool   `json:"online"`
}

// ProductContext links a conversation to the product it was opened from.
type ProductContext struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
}

type Conversation struct {
	ID                  string          `json:"id"`
	Participants        []Participant   `json:"participants"`
	StoreID             string          `json:"store_id,omitempty"`
	Product             *ProductContext `json:"product,omitempty"`
	LastMessage         string          `json:"last_message,omitempty"`
	LastMessageTime     time.Time       `json:"last_message_time"`
	LastMessageSenderID string          `json:"last_message_sender_id,omitempty"`
	UnreadCount         int             `json:"unread_count"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Peer returns the first participant that is not the given user, or nil for
// a conversation we only know by id (lazily materialized from an inbound event).
func (c *Conversation) Peer(userID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID != userID {
			return &c.Participants[i]
		}
	}
	return nil
}
