package usecase

import (
	"context"

	"marketlink/internal/domain/entity"
	ws "marketlink/internal/infrastructure/websocket"
)

// Transport is the persistent-connection surface consumed by the chat session.
// Implemented by internal/infrastructure/websocket.Client.
type Transport interface {
	Connect(ctx context.Context, authToken string) error
	Disconnect()
	State() ws.ConnectionState
	ReconnectAttempt() int

	SubscribeConversation(conversationID string)
	SubscribeTyping(conversationID string)

	SendChatMessage(data ws.SendMessageData) bool
	SendTypingStart(data ws.TypingData) bool
	SendTypingStop(data ws.TypingData) bool
	SendMarkRead(data ws.MarkReadData) bool
	SendPresence(data ws.PresenceData) bool

	OnConnectionChange(handler func(ws.ConnectionState, error)) func()
	OnMessage(handler func(ws.InboundMessage)) func()
	OnReadReceipt(handler func(ws.ReadReceiptData)) func()
	OnTyping(handler func(*entity.TypingSignal)) func()
	OnPresence(handler func(ws.PresenceData)) func()
}

// ChatAPI is the REST collaborator surface for conversations and messages.
// Implemented by internal/adapter/restapi.ChatClient.
type ChatAPI interface {
	ListConversations(ctx context.Context, page, pageSize int) ([]*entity.Conversation, int64, error)
	CreateConversation(ctx context.Context, input CreateConversationInput) (*entity.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
	ArchiveConversation(ctx context.Context, conversationID string) error
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	UnreadCount(ctx context.Context) (int, error)
}

type CreateConversationInput struct {
	RecipientID    string `json:"recipient_id" validate:"required"`
	ProductID      string `json:"product_id,omitempty"`
	InitialMessage string `json:"initial_message,omitempty"`
}
