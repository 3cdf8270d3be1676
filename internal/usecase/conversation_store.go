package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketlink/internal/domain/entity"
	"marketlink/pkg/logger"
)

// ConversationStore owns the ordered conversation directory and unread
// accounting. The directory is sorted by last-message time, newest first,
// after every mutation.
type ConversationStore struct {
	mu          sync.Mutex
	api         ChatAPI
	localUserID string

	directory []*entity.Conversation
	total     int64
	activeID  string
}

func NewConversationStore(api ChatAPI, localUserID string) *ConversationStore {
	return &ConversationStore{
		api:         api,
		localUserID: localUserID,
	}
}

// LoadPage fetches one directory page. Page 0 replaces the directory,
// subsequent pages append (history-list semantics, never used for live
// updates).
func (s *ConversationStore) LoadPage(ctx context.Context, pageIndex, pageSize int) error {
	conversations, total, err := s.api.ListConversations(ctx, pageIndex, pageSize)
	if err != nil {
		logger.Error("Failed to load conversation page %d: %v", pageIndex, err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total = total
	if pageIndex == 0 {
		s.directory = conversations
	} else {
		existing := make(map[string]bool, len(s.directory))
		for _, c := range s.directory {
			existing[c.ID] = true
		}
		for _, c := range conversations {
			if !existing[c.ID] {
				s.directory = append(s.directory, c)
			}
		}
	}
	s.sortLocked()
	return nil
}

// ApplyInboundMessage updates the owning conversation's summary fields and
// unread count. The count is incremented only when the conversation is not
// the active one and the message was not authored locally. A message for an
// unknown conversation lazily materializes a minimal record instead of being
// dropped.
func (s *ConversationStore) ApplyInboundMessage(msg *entity.Message, isOwnMessage bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(msg.ConversationID)
	if conv == nil {
		conv = &entity.Conversation{
			ID:        msg.ConversationID,
			CreatedAt: time.Now(),
		}
		if !isOwnMessage {
			conv.Participants = []entity.Participant{{
				UserID:      msg.SenderID,
				DisplayName: msg.SenderName,
				AvatarURL:   msg.SenderAvatar,
			}}
		}
		s.directory = append(s.directory, conv)
		s.total++
		logger.Debug("Materialized conversation %s from inbound message", conv.ID)
	}

	conv.LastMessage = msg.Content
	conv.LastMessageTime = msg.SentAt
	conv.LastMessageSenderID = msg.SenderID
	conv.UpdatedAt = time.Now()

	if conv.ID != s.activeID && !isOwnMessage {
		conv.UnreadCount++
	}

	s.sortLocked()
}

// MarkActive switches the active conversation. Activation zeroes its unread
// count and issues the REST mark-read call. An empty id clears the active
// pointer with no side effects on other conversations.
func (s *ConversationStore) MarkActive(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.activeID = conversationID
	conv := s.findLocked(conversationID)
	if conv != nil {
		conv.UnreadCount = 0
	}
	s.mu.Unlock()

	if conversationID == "" || conv == nil {
		return nil
	}

	if err := s.api.MarkConversationRead(ctx, conversationID); err != nil {
		logger.Warn("Failed to mark conversation %s read: %v", conversationID, err)
		return err
	}
	return nil
}

func (s *ConversationStore) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Archive removes the conversation from the directory. Returns whether it was
// the active conversation so the caller can clear dependent state.
func (s *ConversationStore) Archive(ctx context.Context, conversationID string) (bool, error) {
	if err := s.api.ArchiveConversation(ctx, conversationID); err != nil {
		logger.Error("Failed to archive conversation %s: %v", conversationID, err)
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.directory {
		if c.ID == conversationID {
			s.directory = append(s.directory[:i], s.directory[i+1:]...)
			s.total--
			break
		}
	}

	wasActive := s.activeID == conversationID
	if wasActive {
		s.activeID = ""
	}
	return wasActive, nil
}

// Upsert inserts a conversation created through the REST surface.
func (s *ConversationStore) Upsert(conv *entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findLocked(conv.ID); existing != nil {
		*existing = *conv
	} else {
		s.directory = append(s.directory, conv)
		s.total++
	}
	s.sortLocked()
}

// ApplyPresence flips the online flag of a participant wherever they appear.
func (s *ConversationStore) ApplyPresence(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.directory {
		for i := range conv.Participants {
			if conv.Participants[i].UserID == userID {
				conv.Participants[i].Online = online
			}
		}
	}
}

// Conversations returns a snapshot of the directory in display order.
func (s *ConversationStore) Conversations() []*entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*entity.Conversation, len(s.directory))
	copy(out, s.directory)
	return out
}

func (s *ConversationStore) Get(conversationID string) *entity.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(conversationID)
}

// UnreadConversations is the global badge value: the number of conversations
// with unread messages, not the sum of unread messages.
func (s *ConversationStore) UnreadConversations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, c := range s.directory {
		if c.UnreadCount > 0 {
			count++
		}
	}
	return count
}

// HasMore reports whether the backend holds more directory pages.
func (s *ConversationStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.directory)) < s.total
}

func (s *ConversationStore) findLocked(conversationID string) *entity.Conversation {
	for _, c := range s.directory {
		if c.ID == conversationID {
			return c
		}
	}
	return nil
}

func (s *ConversationStore) sortLocked() {
	sort.SliceStable(s.directory, func(i, j int) bool {
		return s.directory[i].LastMessageTime.After(s.directory[j].LastMessageTime)
	})
}
