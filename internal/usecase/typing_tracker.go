package usecase

import (
	"sync"
	"time"

	"marketlink/internal/domain/entity"
	ws "marketlink/internal/infrastructure/websocket"
)

// TypingTracker manages ephemeral typing signals: debounced emission of the
// local user's composing state and expiry-managed tracking of remote
// signals. Nothing here is persisted; state is rebuilt from scratch after a
// reconnect or conversation switch.
type TypingTracker struct {
	mu        sync.Mutex
	transport Transport
	localUser entity.Participant
	debounce  time.Duration
	expiry    time.Duration

	remote map[string]map[string]*entity.TypingSignal
	timers map[string]map[string]*time.Timer

	localConversation string
	localActive       bool
	debounceTimer     *time.Timer
}

func NewTypingTracker(transport Transport, localUser entity.Participant, debounce, expiry time.Duration) *TypingTracker {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if expiry <= 0 {
		expiry = 5 * time.Second
	}
	return &TypingTracker{
		transport: transport,
		localUser: localUser,
		debounce:  debounce,
		expiry:    expiry,
		remote:    make(map[string]map[string]*entity.TypingSignal),
		timers:    make(map[string]map[string]*time.Timer),
	}
}

// EmitLocalTyping is called on every local input change. The first call (or a
// conversation switch) publishes typing=true immediately; every call re-arms
// the debounce timer, and only the final pause publishes typing=false.
func (t *TypingTracker) EmitLocalTyping(conversationID string) {
	t.mu.Lock()

	if t.localActive && t.localConversation != conversationID {
		// switched conversations mid-composition; stop the old signal first
		t.sendStopLocked(t.localConversation)
	}

	if !t.localActive || t.localConversation != conversationID {
		t.transport.SendTypingStart(ws.TypingData{
			ConversationID: conversationID,
			UserID:         t.localUser.UserID,
			UserName:       t.localUser.DisplayName,
		})
		t.localActive = true
		t.localConversation = conversationID
	}

	if t.debounceTimer != nil {
		t.debounceTimer.Stop()
	}
	t.debounceTimer = time.AfterFunc(t.debounce, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.localActive && t.localConversation == conversationID {
			t.sendStopLocked(conversationID)
		}
	})
	t.mu.Unlock()
}

func (t *TypingTracker) sendStopLocked(conversationID string) {
	t.transport.SendTypingStop(ws.TypingData{
		ConversationID: conversationID,
		UserID:         t.localUser.UserID,
		UserName:       t.localUser.DisplayName,
	})
	t.localActive = false
}

// ApplyInbound upserts a remote typing signal. Signals echoing the local user
// are ignored. A typing=false signal removes the entry; a typing=true entry
// is dropped automatically after the quiet period via a single owned timer
// per key.
func (t *TypingTracker) ApplyInbound(signal *entity.TypingSignal) {
	if signal.UserID == t.localUser.UserID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !signal.IsTyping {
		t.removeLocked(signal.ConversationID, signal.UserID)
		return
	}

	if t.remote[signal.ConversationID] == nil {
		t.remote[signal.ConversationID] = make(map[string]*entity.TypingSignal)
		t.timers[signal.ConversationID] = make(map[string]*time.Timer)
	}
	t.remote[signal.ConversationID][signal.UserID] = signal

	if timer := t.timers[signal.ConversationID][signal.UserID]; timer != nil {
		timer.Stop()
	}
	convID, userID := signal.ConversationID, signal.UserID
	t.timers[convID][userID] = time.AfterFunc(t.expiry, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.removeLocked(convID, userID)
	})
}

func (t *TypingTracker) removeLocked(conversationID, userID string) {
	if timer := t.timers[conversationID][userID]; timer != nil {
		timer.Stop()
		delete(t.timers[conversationID], userID)
	}
	delete(t.remote[conversationID], userID)
}

// TypingUsers returns display names of peers composing in the conversation.
func (t *TypingTracker) TypingUsers(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.remote[conversationID]))
	for _, s := range t.remote[conversationID] {
		name := s.UserName
		if name == "" {
			name = s.UserID
		}
		names = append(names, name)
	}
	return names
}

// IsAnyoneTyping is the UI predicate: the per-conversation map is non-empty.
func (t *TypingTracker) IsAnyoneTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.remote[conversationID]) > 0
}

// Reset clears remote state for one conversation.
func (t *TypingTracker) Reset(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID := range t.remote[conversationID] {
		t.removeLocked(conversationID, userID)
	}
}

// ResetAll clears all ephemeral state, including the local debounce.
func (t *TypingTracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for convID, users := range t.remote {
		for userID := range users {
			t.removeLocked(convID, userID)
		}
	}
	if t.debounceTimer != nil {
		t.debounceTimer.Stop()
		t.debounceTimer = nil
	}
	t.localActive = false
	t.localConversation = ""
}
