package usecase

import (
	"context"
	"sync"
	"time"

	"marketlink/internal/domain/entity"
	ws "marketlink/internal/infrastructure/websocket"
	"marketlink/pkg/errors"
	"marketlink/pkg/logger"
)

// SendMessageInput carries everything needed to compose an outbound message.
type SendMessageInput struct {
	Content          string
	Type             entity.MessageType
	Attachments      []string
	ReplyToMessageID string
	ProductID        string
}

// Snapshot is the read-only projection handed to the UI layer. The UI holds
// no authoritative state; it renders this and dispatches intents back.
type Snapshot struct {
	Conversations        []*entity.Conversation
	ActiveConversationID string
	Messages             []*entity.Message
	TypingUsers          []string
	ConnectionState      ws.ConnectionState
	ReconnectAttempt     int
	UnreadBadge          int
}

type SessionOptions struct {
	PageSize       int
	TypingDebounce time.Duration
	TypingExpiry   time.Duration
}

// ChatSession binds the transport client, conversation store, message
// reconciler and typing tracker to one authenticated identity and exposes a
// single façade to the UI layer. It is an explicitly constructed service with
// a Start/Close lifecycle tied to authentication state, not a global.
type ChatSession struct {
	transport Transport
	api       ChatAPI
	store     *ConversationStore
	messages  *MessageReconciler
	typing    *TypingTracker
	localUser entity.Participant
	pageSize  int

	mu           sync.Mutex
	started      bool
	connState    ws.ConnectionState
	selectionGen int
	unsubs       []func()
}

func NewChatSession(transport Transport, api ChatAPI, localUser entity.Participant, opts SessionOptions) *ChatSession {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	return &ChatSession{
		transport: transport,
		api:       api,
		store:     NewConversationStore(api, localUser.UserID),
		messages:  NewMessageReconciler(api, localUser.UserID, opts.PageSize),
		typing:    NewTypingTracker(transport, localUser, opts.TypingDebounce, opts.TypingExpiry),
		localUser: localUser,
		pageSize:  opts.PageSize,
		connState: ws.Disconnected,
	}
}

// Start preloads the conversation directory and opens the transport
// connection. It requires an auth token; the engine is only activated for an
// authenticated user.
func (s *ChatSession) Start(ctx context.Context, authToken string) error {
	if authToken == "" {
		return errors.Unauthorized("cannot start chat session without auth token", nil)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.registerHandlers()

	if err := s.store.LoadPage(ctx, 0, s.pageSize); err != nil {
		logger.Warn("Chat session preload failed, continuing with live events only: %v", err)
	}

	if err := s.transport.Connect(ctx, authToken); err != nil {
		return err
	}

	s.transport.SendPresence(ws.PresenceData{
		UserID:   s.localUser.UserID,
		Username: s.localUser.DisplayName,
		IsOnline: true,
		Status:   "online",
	})
	return nil
}

// Close tears the session down to an empty, disconnected state. Ephemeral
// state (typing, subscriptions, connection) is cleared; REST-backed
// conversation and message history is not.
func (s *ChatSession) Close() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	s.transport.SendPresence(ws.PresenceData{
		UserID:   s.localUser.UserID,
		IsOnline: false,
		Status:   "offline",
	})
	s.transport.Disconnect()
	s.typing.ResetAll()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (s *ChatSession) registerHandlers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unsubs = append(s.unsubs,
		s.transport.OnConnectionChange(s.handleConnectionChange),
		s.transport.OnMessage(s.handleInboundMessage),
		s.transport.OnReadReceipt(s.handleReadReceipt),
		s.transport.OnTyping(s.typing.ApplyInbound),
		s.transport.OnPresence(s.handlePresence),
	)
}

func (s *ChatSession) handleConnectionChange(state ws.ConnectionState, err error) {
	s.mu.Lock()
	previous := s.connState
	s.connState = state
	active := s.store.Active()
	s.mu.Unlock()

	if err != nil {
		logger.Warn("Chat connection state %s: %v", state, err)
	}

	switch state {
	case ws.Disconnected:
		s.typing.ResetAll()
	case ws.Connected:
		// A fresh gateway connection knows nothing about the previous
		// subscriptions; re-issue them for the active conversation.
		if previous != ws.Connected && active != "" {
			s.transport.SubscribeConversation(active)
			s.transport.SubscribeTyping(active)
		}
	}
}

func (s *ChatSession) handleInboundMessage(inbound ws.InboundMessage) {
	msg := inbound.Message
	isOwn := msg.SenderID == s.localUser.UserID

	// The gateway delivers a confirmed message on both the conversation topic
	// and the private queue. Only the first arrival may touch unread counts or
	// trigger the read ack; a duplicate changed nothing.
	if !s.messages.ApplyInbound(msg, inbound.TempID) {
		return
	}
	s.store.ApplyInboundMessage(msg, isOwn)

	// Reading happens implicitly for the open conversation: ack the message
	// so the sender's receipt can flip their copy to read.
	if !isOwn && msg.ConversationID == s.store.Active() {
		s.transport.SendMarkRead(ws.MarkReadData{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
		})
	}
}

func (s *ChatSession) handleReadReceipt(data ws.ReadReceiptData) {
	if data.ReaderID == s.localUser.UserID {
		return
	}
	s.messages.ApplyReadReceipt(data.ConversationID)
}

func (s *ChatSession) handlePresence(data ws.PresenceData) {
	s.store.ApplyPresence(data.UserID, data.IsOnline)
}

// SelectConversation makes the conversation the active one: zeroes its unread
// count, marks it read over REST, swaps the topic and typing subscriptions,
// and fetches the newest history page. A page resolving after the user has
// moved on is discarded.
func (s *ChatSession) SelectConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.selectionGen++
	gen := s.selectionGen
	s.mu.Unlock()

	if err := s.store.MarkActive(ctx, conversationID); err != nil {
		logger.Warn("Mark-read for %s failed: %v", conversationID, err)
	}
	s.typing.Reset(conversationID)
	s.transport.SubscribeConversation(conversationID)
	s.transport.SubscribeTyping(conversationID)

	stale := false
	if err := s.messages.Load(ctx, conversationID, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.selectionGen {
			stale = true
			return false
		}
		return true
	}); err != nil {
		return err
	}
	if stale {
		logger.Debug("Discarded stale history load for %s", conversationID)
	}
	return nil
}

// ClearActiveConversation drops the active pointer without side effects on
// other conversations, used when leaving the chat view entirely.
func (s *ChatSession) ClearActiveConversation(ctx context.Context) {
	s.mu.Lock()
	s.selectionGen++
	s.mu.Unlock()

	s.store.MarkActive(ctx, "")
	s.transport.SubscribeConversation("")
	s.transport.SubscribeTyping("")
}

// SendMessage appends an optimistic placeholder immediately, then publishes
// the real payload. A failed publish is reported to the caller but the
// placeholder intentionally stays unconfirmed; there is no rollback, retry or
// failed state.
func (s *ChatSession) SendMessage(input SendMessageInput) (*entity.Message, bool) {
	conversationID := s.store.Active()
	if conversationID == "" || input.Content == "" {
		return nil, false
	}
	if input.Type == "" {
		input.Type = entity.MessageTypeText
	}

	placeholder := &entity.Message{
		ID:               entity.NewProvisionalID(),
		ConversationID:   conversationID,
		SenderID:         s.localUser.UserID,
		SenderName:       s.localUser.DisplayName,
		SenderAvatar:     s.localUser.AvatarURL,
		Content:          input.Content,
		Type:             input.Type,
		Attachments:      input.Attachments,
		Status:           entity.MessageStatusSent,
		SentAt:           time.Now(),
		ReplyToMessageID: input.ReplyToMessageID,
		ProductID:        input.ProductID,
	}
	s.messages.AppendLocal(placeholder)
	s.store.ApplyInboundMessage(placeholder, true)

	sent := s.transport.SendChatMessage(ws.SendMessageData{
		TempID:           placeholder.ID,
		ConversationID:   conversationID,
		Content:          input.Content,
		Type:             string(input.Type),
		Attachments:      input.Attachments,
		ReplyToMessageID: input.ReplyToMessageID,
		ProductID:        input.ProductID,
	})
	if !sent {
		logger.Warn("Message publish failed; optimistic placeholder %s stays unconfirmed", placeholder.ID)
	}
	return placeholder, sent
}

// LoadOlderMessages pages older history into the active conversation. A page
// resolving after the user navigated away is discarded before it can touch
// the sequence.
func (s *ChatSession) LoadOlderMessages(ctx context.Context) (bool, error) {
	s.mu.Lock()
	gen := s.selectionGen
	s.mu.Unlock()

	conversationID := s.store.Active()
	if conversationID == "" {
		return false, nil
	}

	return s.messages.LoadOlder(ctx, conversationID, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return gen == s.selectionGen
	})
}

// LoadMoreConversations appends the next directory page.
func (s *ChatSession) LoadMoreConversations(ctx context.Context) error {
	page := len(s.store.Conversations()) / s.pageSize
	return s.store.LoadPage(ctx, page, s.pageSize)
}

func (s *ChatSession) DeleteMessage(ctx context.Context, messageID string) error {
	conversationID := s.store.Active()
	if conversationID == "" {
		return errors.BadRequest("no active conversation", nil)
	}
	return s.messages.Delete(ctx, conversationID, messageID)
}

// ArchiveConversation removes the conversation; archiving the active one also
// clears the active pointer and its message list.
func (s *ChatSession) ArchiveConversation(ctx context.Context, conversationID string) error {
	wasActive, err := s.store.Archive(ctx, conversationID)
	if err != nil {
		return err
	}
	s.messages.Clear(conversationID)
	s.typing.Reset(conversationID)
	if wasActive {
		s.mu.Lock()
		s.selectionGen++
		s.mu.Unlock()
		s.transport.SubscribeConversation("")
		s.transport.SubscribeTyping("")
	}
	return nil
}

// CreateConversation opens a conversation through the REST surface and makes
// it visible in the directory.
func (s *ChatSession) CreateConversation(ctx context.Context, input CreateConversationInput) (*entity.Conversation, error) {
	conv, err := s.api.CreateConversation(ctx, input)
	if err != nil {
		return nil, err
	}
	s.store.Upsert(conv)
	return conv, nil
}

// EmitTyping should be called on every local input change in the composer.
func (s *ChatSession) EmitTyping() {
	conversationID := s.store.Active()
	if conversationID == "" {
		return
	}
	s.typing.EmitLocalTyping(conversationID)
}

// UnreadBadge is the number of conversations with unread messages.
func (s *ChatSession) UnreadBadge() int {
	return s.store.UnreadConversations()
}

// Snapshot returns a consistent read-only projection for rendering.
func (s *ChatSession) Snapshot() Snapshot {
	s.mu.Lock()
	connState := s.connState
	s.mu.Unlock()

	active := s.store.Active()
	var messages []*entity.Message
	var typingUsers []string
	if active != "" {
		messages = s.messages.Messages(active)
		typingUsers = s.typing.TypingUsers(active)
	}

	return Snapshot{
		Conversations:        s.store.Conversations(),
		ActiveConversationID: active,
		Messages:             messages,
		TypingUsers:          typingUsers,
		ConnectionState:      connState,
		ReconnectAttempt:     s.transport.ReconnectAttempt(),
		UnreadBadge:          s.store.UnreadConversations(),
	}
}

// Store exposes the conversation directory for read-only consumers.
func (s *ChatSession) Store() *ConversationStore {
	return s.store
}

// Messages exposes the reconciler for read-only consumers.
func (s *ChatSession) Messages() *MessageReconciler {
	return s.messages
}
