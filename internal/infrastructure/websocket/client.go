package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"marketlink/internal/domain/entity"
	"marketlink/pkg/errors"
	"marketlink/pkg/logger"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// wireConn is the subset of *gorilla/websocket.Conn the client needs. Tests
// substitute fakes through Options.Dialer.
type wireConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens the underlying socket. The default uses gorilla's dialer.
type Dialer func(ctx context.Context, url string, header http.Header) (wireConn, error)

func defaultDialer(ctx context.Context, url string, header http.Header) (wireConn, error) {
	conn, _, err := gorillaws.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Options struct {
	URL                  string
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	PingInterval         time.Duration
	Dialer               Dialer
}

func (o *Options) withDefaults() {
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = 3 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = defaultDialer
	}
}

// Client owns the persistent chat gateway connection. It exposes
// fire-and-forget send primitives and callback registries for inbound events;
// optimistic-UI reconciliation is the caller's concern, not the client's.
type Client struct {
	opts Options

	mu               sync.Mutex
	state            ConnectionState
	conn             wireConn
	writeMu          sync.Mutex
	authToken        string
	reconnectAttempt int
	reconnectTimer   *time.Timer
	closing          bool
	generation       int

	activeConversation string
	activeTyping       string

	handlerMu        sync.Mutex
	nextHandlerID    int
	connHandlers     map[int]func(ConnectionState, error)
	messageHandlers  map[int]func(InboundMessage)
	receiptHandlers  map[int]func(ReadReceiptData)
	typingHandlers   map[int]func(*entity.TypingSignal)
	presenceHandlers map[int]func(PresenceData)
}

func NewClient(opts Options) *Client {
	opts.withDefaults()
	return &Client{
		opts:             opts,
		state:            Disconnected,
		connHandlers:     make(map[int]func(ConnectionState, error)),
		messageHandlers:  make(map[int]func(InboundMessage)),
		receiptHandlers:  make(map[int]func(ReadReceiptData)),
		typingHandlers:   make(map[int]func(*entity.TypingSignal)),
		presenceHandlers: make(map[int]func(PresenceData)),
	}
}

// Connect opens the socket and performs the authenticated handshake. It is
// idempotent: a no-op when already connected or connecting. A failed handshake
// is reported through the connection callbacks and NOT retried; only a drop
// after a successful connect triggers the reconnect policy.
func (c *Client) Connect(ctx context.Context, authToken string) error {
	if authToken == "" {
		return errors.Unauthorized("auth token is required to connect", nil)
	}

	c.mu.Lock()
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.closing = false
	c.authToken = authToken
	c.reconnectAttempt = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.mu.Unlock()

	c.notifyConnection(Connecting, nil)

	return c.establish(ctx)
}

// establish dials and performs the handshake using the stored token. Shared
// by Connect and the reconnect path.
func (c *Client) establish(ctx context.Context) error {
	c.mu.Lock()
	token := c.authToken
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, err := c.opts.Dialer(ctx, c.opts.URL, header)
	if err != nil {
		c.failConnect(errors.Transport("failed to open chat connection", err))
		return errors.Transport("failed to open chat connection", err)
	}

	// The gateway acknowledges an authenticated upgrade with a "connected"
	// frame before any other traffic.
	conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		appErr := errors.Transport("chat handshake failed", err)
		c.failConnect(appErr)
		return appErr
	}
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != FrameTypeConnected {
		conn.Close()
		appErr := errors.Transport("unexpected handshake response", err)
		c.failConnect(appErr)
		return appErr
	}
	conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.reconnectAttempt = 0
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	logger.Info("Chat transport connected")
	c.notifyConnection(Connected, nil)

	go c.readPump(gen, conn)
	go c.pingLoop(gen)

	return nil
}

func (c *Client) failConnect(err error) {
	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
	logger.Error("Chat transport connect failed: %v", err)
	c.notifyConnection(Disconnected, err)
}

// Disconnect unsubscribes everything, closes the socket and settles in the
// disconnected state. Safe to call when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closing = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	wasConnected := c.state != Disconnected
	c.state = Disconnected
	c.generation++
	c.activeConversation = ""
	c.activeTyping = ""
	c.reconnectAttempt = 0
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		c.notifyConnection(Disconnected, nil)
	}
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) ReconnectAttempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempt
}

// SubscribeConversation swaps the single per-conversation topic subscription:
// at most one conversation is joined at a time, matching the UI's
// single-active-conversation model.
func (c *Client) SubscribeConversation(conversationID string) {
	c.mu.Lock()
	previous := c.activeConversation
	if previous == conversationID {
		c.mu.Unlock()
		return
	}
	c.activeConversation = conversationID
	c.mu.Unlock()

	if previous != "" {
		c.send(newFrame(FrameTypeLeaveChatRoom, LeaveRoomData{ConversationID: previous}))
	}
	if conversationID != "" {
		c.send(newFrame(FrameTypeJoinChatRoom, JoinRoomData{ConversationID: conversationID}))
	}
}

// SubscribeTyping selects which conversation's typing signals are surfaced to
// the typing handlers; signals for other conversations are dropped.
func (c *Client) SubscribeTyping(conversationID string) {
	c.mu.Lock()
	c.activeTyping = conversationID
	c.mu.Unlock()
}

// SendChatMessage publishes a message to the send destination. The returned
// flag means only "the client was connected enough to attempt the send";
// there is no server acknowledgment at this layer.
func (c *Client) SendChatMessage(data SendMessageData) bool {
	return c.send(newFrame(FrameTypeSendMessage, data))
}

func (c *Client) SendTypingStart(data TypingData) bool {
	data.Typing = true
	return c.send(newFrame(FrameTypeTypingStart, data))
}

func (c *Client) SendTypingStop(data TypingData) bool {
	data.Typing = false
	return c.send(newFrame(FrameTypeTypingStop, data))
}

func (c *Client) SendMarkRead(data MarkReadData) bool {
	return c.send(newFrame(FrameTypeMarkMessageRead, data))
}

func (c *Client) SendPresence(data PresenceData) bool {
	return c.send(newFrame(FrameTypePresence, data))
}

func (c *Client) send(frame Frame) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected || conn == nil {
		logger.Debug("Dropping %s frame: transport not connected", frame.Type)
		return false
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Error("Failed to marshal %s frame: %v", frame.Type, err)
		return false
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(gorillaws.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		logger.Warn("Failed to write %s frame: %v", frame.Type, err)
		return false
	}
	return true
}

// inboundFrame defers payload decoding until the frame type is known.
type inboundFrame struct {
	Type           string          `json:"type"`
	Data           json.RawMessage `json:"data"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Timestamp      string          `json:"timestamp"`
}

func (c *Client) readPump(gen int, conn wireConn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.Warn("Discarding malformed frame: %v", err)
			continue
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame inboundFrame) {
	switch frame.Type {
	case FrameTypePing:
		c.send(newFrame(FrameTypePong, nil))

	case FrameTypePong:
		// keepalive reply, nothing to do

	case FrameTypeMessage:
		var data MessageData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			logger.Warn("Discarding malformed message frame: %v", err)
			return
		}
		inbound := InboundMessage{Message: data.ToEntity(), TempID: data.TempID}
		for _, h := range c.snapshotMessageHandlers() {
			h(inbound)
		}

	case FrameTypeReadReceipt:
		var data ReadReceiptData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			logger.Warn("Discarding malformed read receipt: %v", err)
			return
		}
		for _, h := range c.snapshotReceiptHandlers() {
			h(data)
		}

	case FrameTypeTyping:
		var data TypingData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			logger.Warn("Discarding malformed typing frame: %v", err)
			return
		}
		c.mu.Lock()
		active := c.activeTyping
		c.mu.Unlock()
		if data.ConversationID != active {
			return
		}
		signal := data.ToEntity()
		for _, h := range c.snapshotTypingHandlers() {
			h(signal)
		}

	case FrameTypePresence:
		var data PresenceData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			logger.Warn("Discarding malformed presence frame: %v", err)
			return
		}
		for _, h := range c.snapshotPresenceHandlers() {
			h(data)
		}

	case FrameTypeError:
		var data ErrorData
		if err := json.Unmarshal(frame.Data, &data); err == nil {
			logger.Warn("Chat gateway error: %s", data.Message)
		}

	default:
		logger.Debug("Ignoring unknown frame type %q", frame.Type)
	}
}

// handleDrop reacts to an unexpected socket closure. Explicit disconnects and
// superseded connections (generation mismatch) are ignored.
func (c *Client) handleDrop(gen int, err error) {
	c.mu.Lock()
	if c.closing || gen != c.generation {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	c.mu.Unlock()

	logger.Warn("Chat transport connection lost: %v", err)
	c.notifyConnection(Disconnected, errors.Transport("connection lost", err))
	c.scheduleReconnect()
}

// scheduleReconnect arms the next attempt with linear backoff
// (baseDelay * attemptNumber), capped at MaxReconnectAttempts. Exceeding the
// cap leaves the client disconnected until an explicit Connect.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	if c.reconnectAttempt >= c.opts.MaxReconnectAttempts {
		c.mu.Unlock()
		logger.Error("Chat transport gave up after %d reconnect attempts", c.opts.MaxReconnectAttempts)
		return
	}
	c.reconnectAttempt++
	attempt := c.reconnectAttempt
	delay := c.opts.ReconnectBaseDelay * time.Duration(attempt)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.reconnect()
	})
	c.mu.Unlock()

	logger.Info("Scheduling chat reconnect attempt %d in %s", attempt, delay)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closing || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()

	c.notifyConnection(Connecting, nil)

	if err := c.reestablish(); err != nil {
		c.scheduleReconnect()
	}
}

// reestablish is the reconnect-path variant of establish: a failure feeds back
// into the backoff loop instead of surfacing to a caller.
func (c *Client) reestablish() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
	defer cancel()
	return c.establish(ctx)
}

func (c *Client) notifyConnection(state ConnectionState, err error) {
	c.handlerMu.Lock()
	handlers := make([]func(ConnectionState, error), 0, len(c.connHandlers))
	for _, h := range c.connHandlers {
		handlers = append(handlers, h)
	}
	c.handlerMu.Unlock()
	for _, h := range handlers {
		h(state, err)
	}
}

func (c *Client) snapshotMessageHandlers() []func(InboundMessage) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(InboundMessage), 0, len(c.messageHandlers))
	for _, h := range c.messageHandlers {
		out = append(out, h)
	}
	return out
}

func (c *Client) snapshotReceiptHandlers() []func(ReadReceiptData) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(ReadReceiptData), 0, len(c.receiptHandlers))
	for _, h := range c.receiptHandlers {
		out = append(out, h)
	}
	return out
}

func (c *Client) snapshotTypingHandlers() []func(*entity.TypingSignal) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(*entity.TypingSignal), 0, len(c.typingHandlers))
	for _, h := range c.typingHandlers {
		out = append(out, h)
	}
	return out
}

func (c *Client) snapshotPresenceHandlers() []func(PresenceData) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(PresenceData), 0, len(c.presenceHandlers))
	for _, h := range c.presenceHandlers {
		out = append(out, h)
	}
	return out
}

// OnConnectionChange registers a connection-state listener and returns its
// unregister function. All registries support multiple independent listeners.
func (c *Client) OnConnectionChange(handler func(ConnectionState, error)) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.connHandlers[id] = handler
	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.connHandlers, id)
	}
}

func (c *Client) OnMessage(handler func(InboundMessage)) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.messageHandlers[id] = handler
	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.messageHandlers, id)
	}
}

func (c *Client) OnReadReceipt(handler func(ReadReceiptData)) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.receiptHandlers[id] = handler
	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.receiptHandlers, id)
	}
}

func (c *Client) OnTyping(handler func(*entity.TypingSignal)) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.typingHandlers[id] = handler
	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.typingHandlers, id)
	}
}

func (c *Client) OnPresence(handler func(PresenceData)) func() {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	id := c.nextHandlerID
	c.nextHandlerID++
	c.presenceHandlers[id] = handler
	return func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		delete(c.presenceHandlers, id)
	}
}

func (c *Client) pingLoop(gen int) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		c.mu.Lock()
		stale := gen != c.generation || c.state != Connected
		c.mu.Unlock()
		if stale {
			return
		}
		c.send(newFrame(FrameTypePing, nil))
	}
}
