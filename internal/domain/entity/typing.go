package entity

import "time"

// TypingSignal is an ephemeral composing indicator. It is never persisted;
// state is rebuilt from scratch on reconnect or conversation switch.
type TypingSignal struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name,omitempty"`
	IsTyping       bool      `json:"is_typing"`
	ExpiresAt      time.Time `json:"expires_at"`
}
