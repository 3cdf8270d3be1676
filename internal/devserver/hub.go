package devserver

import (
	"encoding/json"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/google/uuid"

	"marketlink/internal/domain/entity"
	"marketlink/internal/infrastructure/ratelimit"
	ws "marketlink/internal/infrastructure/websocket"
	"marketlink/pkg/errors"
	"marketlink/pkg/logger"
)

// client is one connected websocket session.
type client struct {
	userID   string
	username string
	conn     *gorillaws.Conn
	send     chan []byte

	mu         sync.Mutex
	activeRoom string
}

// Hub manages all active websocket sessions and per-conversation rooms. It is
// the development stand-in for the production chat gateway.
type Hub struct {
	store       *memoryStore
	rateLimiter *ratelimit.RateLimiter

	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]bool
}

func NewHub(store *memoryStore) *Hub {
	return &Hub{
		store:       store,
		rateLimiter: ratelimit.NewRateLimiter(),
		clients:     make(map[string]*client),
		rooms:       make(map[string]map[string]bool),
	}
}

// Attach registers an upgraded connection, acknowledges the handshake and
// starts the read/write pumps.
func (h *Hub) Attach(userID, username string, conn *gorillaws.Conn) {
	c := &client{
		userID:   userID,
		username: username,
		conn:     conn,
		send:     make(chan []byte, 256),
	}

	h.mu.Lock()
	if existing, ok := h.clients[userID]; ok {
		close(existing.send)
	}
	h.clients[userID] = c
	h.mu.Unlock()

	h.sendTo(c, ws.FrameTypeConnected, ws.ConnectedData{UserID: userID})
	h.broadcastPresence(userID, username, true)
	logger.Info("Dev gateway: client %s connected", userID)

	go c.writePump()
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.detach(c)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseGoingAway, gorillaws.CloseNormalClosure) {
				logger.Warn("Dev gateway: read error from %s: %v", c.userID, err)
			}
			return
		}
		h.handleFrame(c, raw)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(gorillaws.TextMessage, message); err != nil {
			logger.Warn("Dev gateway: write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(gorillaws.CloseMessage, []byte{})
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if current, ok := h.clients[c.userID]; ok && current == c {
		delete(h.clients, c.userID)
		close(c.send)
	}
	for _, members := range h.rooms {
		delete(members, c.userID)
	}
	h.mu.Unlock()

	h.broadcastPresence(c.userID, c.username, false)
	logger.Info("Dev gateway: client %s disconnected", c.userID)
}

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (h *Hub) handleFrame(c *client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.sendError(c, "invalid frame")
		return
	}

	switch frame.Type {
	case ws.FrameTypePing:
		h.sendTo(c, ws.FrameTypePong, map[string]string{"status": "alive"})

	case ws.FrameTypeSendMessage:
		h.handleSendMessage(c, frame.Data)

	case ws.FrameTypeJoinChatRoom:
		var data ws.JoinRoomData
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ConversationID == "" {
			h.sendError(c, "invalid join payload")
			return
		}
		h.joinRoom(c, data.ConversationID)

	case ws.FrameTypeLeaveChatRoom:
		var data ws.LeaveRoomData
		if err := json.Unmarshal(frame.Data, &data); err != nil || data.ConversationID == "" {
			h.sendError(c, "invalid leave payload")
			return
		}
		h.leaveRoom(c, data.ConversationID)

	case ws.FrameTypeTypingStart, ws.FrameTypeTypingStop:
		var data ws.TypingData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			h.sendError(c, "invalid typing payload")
			return
		}
		data.UserID = c.userID
		data.UserName = c.username
		data.Typing = frame.Type == ws.FrameTypeTypingStart
		data.ExpiresAt = time.Now().Add(5 * time.Second).Format(time.RFC3339)
		h.broadcastToConversation(data.ConversationID, c.userID, ws.FrameTypeTyping, data)

	case ws.FrameTypeMarkMessageRead:
		var data ws.MarkReadData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			h.sendError(c, "invalid mark-read payload")
			return
		}
		h.store.MarkRead(data.ConversationID, c.userID)
		h.broadcastToConversation(data.ConversationID, c.userID, ws.FrameTypeReadReceipt, ws.ReadReceiptData{
			ConversationID: data.ConversationID,
			MessageID:      data.MessageID,
			ReaderID:       c.userID,
			ReaderName:     c.username,
		})

	case ws.FrameTypePresence:
		// presence is derived from the connection itself; ignore the payload

	default:
		logger.Debug("Dev gateway: unknown frame type %q from %s", frame.Type, c.userID)
		h.sendError(c, "unknown frame type")
	}
}

func (h *Hub) handleSendMessage(c *client, raw json.RawMessage) {
	var data ws.SendMessageData
	if err := json.Unmarshal(raw, &data); err != nil {
		h.sendError(c, "invalid send payload")
		return
	}
	if data.ConversationID == "" || data.Content == "" {
		h.sendError(c, "missing required fields")
		return
	}

	if allowed, wait := h.rateLimiter.Allow(c.userID, "send_message"); !allowed {
		logger.Warn("Dev gateway: %s rate limited for %s", c.userID, wait)
		h.sendError(c, "rate limit exceeded")
		return
	}

	msgType := entity.MessageType(data.Type)
	if msgType == "" {
		msgType = entity.MessageTypeText
	}

	msg := &entity.Message{
		ID:               uuid.New().String(),
		ConversationID:   data.ConversationID,
		SenderID:         c.userID,
		SenderName:       c.username,
		Content:          data.Content,
		Type:             msgType,
		Attachments:      data.Attachments,
		Status:           entity.MessageStatusSent,
		SentAt:           time.Now(),
		ReplyToMessageID: data.ReplyToMessageID,
		ProductID:        data.ProductID,
	}

	if h.anyRecipientOnline(data.ConversationID, c.userID) {
		msg.Status = entity.MessageStatusDelivered
	}

	if err := h.store.AppendMessage(msg); err != nil {
		if errors.Is(err, "NOT_FOUND") {
			h.sendError(c, "conversation not found")
		} else {
			h.sendError(c, "failed to store message")
		}
		return
	}

	payload := ws.MessageData{
		ID:               msg.ID,
		TempID:           data.TempID,
		ConversationID:   msg.ConversationID,
		SenderID:         msg.SenderID,
		SenderName:       msg.SenderName,
		Content:          msg.Content,
		Type:             string(msg.Type),
		Status:           string(msg.Status),
		Attachments:      msg.Attachments,
		ReplyToMessageID: msg.ReplyToMessageID,
		ProductID:        msg.ProductID,
		Timestamp:        msg.SentAt.Format(time.RFC3339),
	}

	// Deliver on the per-conversation topic and on each participant's
	// private queue so recipients outside the room still see it.
	h.broadcastToConversation(msg.ConversationID, "", ws.FrameTypeMessage, payload)
	for _, userID := range h.store.ParticipantIDs(msg.ConversationID) {
		if !h.inRoom(msg.ConversationID, userID) {
			h.sendToUser(userID, ws.FrameTypeMessage, payload)
		}
	}
}

func (h *Hub) joinRoom(c *client, conversationID string) {
	h.mu.Lock()
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[string]bool)
	}
	h.rooms[conversationID][c.userID] = true
	h.mu.Unlock()

	c.mu.Lock()
	c.activeRoom = conversationID
	c.mu.Unlock()
}

func (h *Hub) leaveRoom(c *client, conversationID string) {
	h.mu.Lock()
	delete(h.rooms[conversationID], c.userID)
	h.mu.Unlock()

	c.mu.Lock()
	if c.activeRoom == conversationID {
		c.activeRoom = ""
	}
	c.mu.Unlock()
}

func (h *Hub) inRoom(conversationID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[conversationID][userID]
}

func (h *Hub) anyRecipientOnline(conversationID, senderID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID := range h.rooms[conversationID] {
		if userID != senderID {
			return true
		}
	}
	return false
}

// broadcastToConversation delivers a frame to every room member, optionally
// excluding one user.
func (h *Hub) broadcastToConversation(conversationID, exceptUserID, frameType string, data interface{}) {
	h.mu.RLock()
	members := make([]*client, 0, len(h.rooms[conversationID]))
	for userID := range h.rooms[conversationID] {
		if userID == exceptUserID {
			continue
		}
		if c, ok := h.clients[userID]; ok {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range members {
		h.sendTo(c, frameType, data)
	}
}

func (h *Hub) broadcastPresence(userID, username string, online bool) {
	data := ws.PresenceData{
		UserID:   userID,
		Username: username,
		IsOnline: online,
		LastSeen: time.Now().Format(time.RFC3339),
	}
	if online {
		data.Status = "online"
	} else {
		data.Status = "offline"
	}

	h.mu.RLock()
	others := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		if id != userID {
			others = append(others, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range others {
		h.sendTo(c, ws.FrameTypePresence, data)
	}
}

func (h *Hub) sendToUser(userID, frameType string, data interface{}) {
	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()
	if ok {
		h.sendTo(c, frameType, data)
	}
}

func (h *Hub) sendTo(c *client, frameType string, data interface{}) {
	frame := ws.Frame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("Dev gateway: failed to marshal %s frame: %v", frameType, err)
		return
	}

	select {
	case c.send <- payload:
	default:
		logger.Warn("Dev gateway: dropping %s frame for slow client %s", frameType, c.userID)
	}
}

func (h *Hub) sendError(c *client, message string) {
	h.sendTo(c, ws.FrameTypeError, ws.ErrorData{Message: message})
}
