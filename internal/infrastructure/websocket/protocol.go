package websocket

import (
	"time"

	"marketlink/internal/domain/entity"
)

// Frame types exchanged with the chat gateway.
const (
	FrameTypePing            = "ping"
	FrameTypePong            = "pong"
	FrameTypeConnected       = "connected"
	FrameTypeSendMessage     = "send_message"
	FrameTypeMessage         = "message"
	FrameTypeTypingStart     = "typing_start"
	FrameTypeTypingStop      = "typing_stop"
	FrameTypeTyping          = "typing"
	FrameTypeJoinChatRoom    = "join_chat_room"
	FrameTypeLeaveChatRoom   = "leave_chat_room"
	FrameTypeMarkMessageRead = "mark_message_read"
	FrameTypeReadReceipt     = "read_receipt"
	FrameTypePresence        = "presence"
	FrameTypeError           = "error"
)

// Frame is the envelope for every websocket exchange.
type Frame struct {
	Type           string      `json:"type"`
	Data           interface{} `json:"data,omitempty"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

func newFrame(frameType string, data interface{}) Frame {
	return Frame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// ConnectedData is the handshake acknowledgment sent by the gateway after a
// successful authenticated upgrade.
type ConnectedData struct {
	UserID string `json:"user_id"`
}

// SendMessageData is the outbound send payload. TempID is the client-generated
// provisional id; the gateway echoes it back on the confirmed message so the
// sender can replace its optimistic placeholder.
type SendMessageData struct {
	TempID           string   `json:"temp_id"`
	ConversationID   string   `json:"conversation_id"`
	Content          string   `json:"content"`
	Type             string   `json:"type"`
	Attachments      []string `json:"attachments,omitempty"`
	ReplyToMessageID string   `json:"reply_to_message_id,omitempty"`
	ProductID        string   `json:"product_id,omitempty"`
}

// MessageData is a server-confirmed message as delivered on the private queue
// and the per-conversation topic.
type MessageData struct {
	ID               string   `json:"id"`
	TempID           string   `json:"temp_id,omitempty"`
	ConversationID   string   `json:"conversation_id"`
	SenderID         string   `json:"sender_id"`
	SenderName       string   `json:"sender_name,omitempty"`
	SenderAvatar     string   `json:"sender_avatar,omitempty"`
	Content          string   `json:"content"`
	Type             string   `json:"type"`
	Status           string   `json:"status"`
	Attachments      []string `json:"attachments,omitempty"`
	ReplyToMessageID string   `json:"reply_to_message_id,omitempty"`
	ProductID        string   `json:"product_id,omitempty"`
	Timestamp        string   `json:"timestamp"`
}

// InboundMessage converts wire data to a domain message. TempID is carried
// separately because it is correlation metadata, not part of the message.
type InboundMessage struct {
	Message *entity.Message
	TempID  string
}

func (d MessageData) ToEntity() *entity.Message {
	sentAt, err := time.Parse(time.RFC3339, d.Timestamp)
	if err != nil {
		sentAt = time.Now()
	}

	msgType := entity.MessageType(d.Type)
	if msgType == "" {
		msgType = entity.MessageTypeText
	}
	status := entity.MessageStatus(d.Status)
	if status == "" {
		status = entity.MessageStatusSent
	}

	return &entity.Message{
		ID:               d.ID,
		ConversationID:   d.ConversationID,
		SenderID:         d.SenderID,
		SenderName:       d.SenderName,
		SenderAvatar:     d.SenderAvatar,
		Content:          d.Content,
		Type:             msgType,
		Attachments:      d.Attachments,
		Status:           status,
		SentAt:           sentAt,
		ReplyToMessageID: d.ReplyToMessageID,
		ProductID:        d.ProductID,
	}
}

type TypingData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	UserName       string `json:"user_name,omitempty"`
	Typing         bool   `json:"typing"`
	ExpiresAt      string `json:"expires_at,omitempty"`
}

func (d TypingData) ToEntity() *entity.TypingSignal {
	expiresAt, err := time.Parse(time.RFC3339, d.ExpiresAt)
	if err != nil {
		expiresAt = time.Now().Add(5 * time.Second)
	}
	return &entity.TypingSignal{
		ConversationID: d.ConversationID,
		UserID:         d.UserID,
		UserName:       d.UserName,
		IsTyping:       d.Typing,
		ExpiresAt:      expiresAt,
	}
}

type JoinRoomData struct {
	ConversationID string `json:"conversation_id"`
}

type LeaveRoomData struct {
	ConversationID string `json:"conversation_id"`
}

type MarkReadData struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
}

// ReadReceiptData signals that a peer has read messages up through now.
type ReadReceiptData struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	ReaderID       string `json:"reader_id"`
	ReaderName     string `json:"reader_name,omitempty"`
}

type PresenceData struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	IsOnline bool   `json:"is_online"`
	Status   string `json:"status,omitempty"`
	LastSeen string `json:"last_seen,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}
