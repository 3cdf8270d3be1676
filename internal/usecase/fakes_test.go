package usecase

import (
	"context"
	"sync"

	"marketlink/internal/domain/entity"
	ws "marketlink/internal/infrastructure/websocket"
)

// fakeChatAPI is an in-memory ChatAPI with canned pages and call recording.
type fakeChatAPI struct {
	mu sync.Mutex

	conversationPages map[int][]*entity.Conversation
	conversationTotal int64
	// messagesByConversation holds the full history newest-first, the order
	// the real API returns pages in.
	messagesByConversation map[string][]*entity.Message

	listErr       error
	markReadCalls []string
	archiveCalls  []string
	deleteCalls   []string
	created       *entity.Conversation

	// listGates holds a ListMessages call for the conversation open until the
	// gate closes; listStarted reports that the call reached the gate.
	listGates   map[string]chan struct{}
	listStarted chan string
}

func newFakeChatAPI() *fakeChatAPI {
	return &fakeChatAPI{
		conversationPages:      make(map[int][]*entity.Conversation),
		messagesByConversation: make(map[string][]*entity.Message),
		listGates:              make(map[string]chan struct{}),
		listStarted:            make(chan string, 8),
	}
}

func (f *fakeChatAPI) ListConversations(ctx context.Context, page, pageSize int) ([]*entity.Conversation, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.conversationPages[page], f.conversationTotal, nil
}

func (f *fakeChatAPI) CreateConversation(ctx context.Context, input CreateConversationInput) (*entity.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, nil
}

func (f *fakeChatAPI) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	f.mu.Lock()
	gate := f.listGates[conversationID]
	f.mu.Unlock()
	if gate != nil {
		f.listStarted <- conversationID
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	all := f.messagesByConversation[conversationID]
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]*entity.Message, end-offset)
	copy(page, all[offset:end])
	return page, total, nil
}

func (f *fakeChatAPI) MarkConversationRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls = append(f.markReadCalls, conversationID)
	return nil
}

func (f *fakeChatAPI) ArchiveConversation(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archiveCalls = append(f.archiveCalls, conversationID)
	return nil
}

func (f *fakeChatAPI) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, messageID)
	return nil
}

func (f *fakeChatAPI) UnreadCount(ctx context.Context) (int, error) {
	return 0, nil
}

// fakeTransport records sends and lets tests push inbound events through the
// registered handlers.
type fakeTransport struct {
	mu sync.Mutex

	state            ws.ConnectionState
	reconnectAttempt int
	sendOK           bool

	sentMessages  []ws.SendMessageData
	typingStarts  []ws.TypingData
	typingStops   []ws.TypingData
	markReads     []ws.MarkReadData
	presenceSends []ws.PresenceData
	convSubs      []string
	typingSubs    []string

	nextID           int
	connHandlers     map[int]func(ws.ConnectionState, error)
	messageHandlers  map[int]func(ws.InboundMessage)
	receiptHandlers  map[int]func(ws.ReadReceiptData)
	typingHandlers   map[int]func(*entity.TypingSignal)
	presenceHandlers map[int]func(ws.PresenceData)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:            ws.Disconnected,
		sendOK:           true,
		connHandlers:     make(map[int]func(ws.ConnectionState, error)),
		messageHandlers:  make(map[int]func(ws.InboundMessage)),
		receiptHandlers:  make(map[int]func(ws.ReadReceiptData)),
		typingHandlers:   make(map[int]func(*entity.TypingSignal)),
		presenceHandlers: make(map[int]func(ws.PresenceData)),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, authToken string) error {
	f.mu.Lock()
	f.state = ws.Connected
	f.mu.Unlock()
	f.pushConnectionState(ws.Connected, nil)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.state = ws.Disconnected
	f.mu.Unlock()
}

func (f *fakeTransport) State() ws.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) ReconnectAttempt() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnectAttempt
}

func (f *fakeTransport) SubscribeConversation(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convSubs = append(f.convSubs, conversationID)
}

func (f *fakeTransport) SubscribeTyping(conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingSubs = append(f.typingSubs, conversationID)
}

func (f *fakeTransport) SendChatMessage(data ws.SendMessageData) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentMessages = append(f.sentMessages, data)
	return f.sendOK
}

func (f *fakeTransport) SendTypingStart(data ws.TypingData) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingStarts = append(f.typingStarts, data)
	return f.sendOK
}

func (f *fakeTransport) SendTypingStop(data ws.TypingData) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typingStops = append(f.typingStops, data)
	return f.sendOK
}

func (f *fakeTransport) SendMarkRead(data ws.MarkReadData) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads = append(f.markReads, data)
	return f.sendOK
}

func (f *fakeTransport) SendPresence(data ws.PresenceData) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presenceSends = append(f.presenceSends, data)
	return f.sendOK
}

func (f *fakeTransport) OnConnectionChange(handler func(ws.ConnectionState, error)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.connHandlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.connHandlers, id)
	}
}

func (f *fakeTransport) OnMessage(handler func(ws.InboundMessage)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.messageHandlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.messageHandlers, id)
	}
}

func (f *fakeTransport) OnReadReceipt(handler func(ws.ReadReceiptData)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.receiptHandlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.receiptHandlers, id)
	}
}

func (f *fakeTransport) OnTyping(handler func(*entity.TypingSignal)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.typingHandlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.typingHandlers, id)
	}
}

func (f *fakeTransport) OnPresence(handler func(ws.PresenceData)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.presenceHandlers[id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.presenceHandlers, id)
	}
}

func (f *fakeTransport) pushConnectionState(state ws.ConnectionState, err error) {
	f.mu.Lock()
	handlers := make([]func(ws.ConnectionState, error), 0, len(f.connHandlers))
	for _, h := range f.connHandlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(state, err)
	}
}

func (f *fakeTransport) pushMessage(inbound ws.InboundMessage) {
	f.mu.Lock()
	handlers := make([]func(ws.InboundMessage), 0, len(f.messageHandlers))
	for _, h := range f.messageHandlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(inbound)
	}
}

func (f *fakeTransport) pushReadReceipt(data ws.ReadReceiptData) {
	f.mu.Lock()
	handlers := make([]func(ws.ReadReceiptData), 0, len(f.receiptHandlers))
	for _, h := range f.receiptHandlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}
