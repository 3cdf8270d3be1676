package devserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketlink/internal/domain/entity"
	"marketlink/pkg/errors"
)

// conversationRecord keeps per-viewer unread counts alongside the shared
// conversation fields.
type conversationRecord struct {
	conversation *entity.Conversation
	unread       map[string]int
	archivedBy   map[string]bool
}

// memoryStore is the devserver's in-memory replacement for the production
// persistence layer. Everything is lost on restart, which is fine for a
// development stub.
type memoryStore struct {
	mu            sync.Mutex
	conversations map[string]*conversationRecord
	messages      map[string][]*entity.Message
	users         map[string]entity.Participant
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: make(map[string]*conversationRecord),
		messages:      make(map[string][]*entity.Message),
		users:         make(map[string]entity.Participant),
	}
}

func (s *memoryStore) RegisterUser(user entity.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = user
}

func (s *memoryStore) User(userID string) (entity.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	return u, ok
}

// CreateConversation opens a direct conversation between two users, with an
// optional product context and initial message.
func (s *memoryStore) CreateConversation(creatorID, recipientID, productID, initialMessage string) (*entity.Conversation, *entity.Message) {
	s.mu.Lock()

	now := time.Now()
	conv := &entity.Conversation{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, userID := range []string{creatorID, recipientID} {
		if u, ok := s.users[userID]; ok {
			conv.Participants = append(conv.Participants, u)
		} else {
			conv.Participants = append(conv.Participants, entity.Participant{UserID: userID})
		}
	}
	if productID != "" {
		conv.Product = &entity.ProductContext{ProductID: productID}
	}

	s.conversations[conv.ID] = &conversationRecord{
		conversation: conv,
		unread:       make(map[string]int),
		archivedBy:   make(map[string]bool),
	}
	s.mu.Unlock()

	var msg *entity.Message
	if initialMessage != "" {
		creator, _ := s.User(creatorID)
		msg = &entity.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			SenderID:       creatorID,
			SenderName:     creator.DisplayName,
			Content:        initialMessage,
			Type:           entity.MessageTypeText,
			Status:         entity.MessageStatusSent,
			SentAt:         now,
		}
		s.AppendMessage(msg)
	}
	return conv, msg
}

// ListConversations returns the viewer's directory page, newest-activity
// first, with the viewer's unread count projected in.
func (s *memoryStore) ListConversations(viewerID string, page, limit int) ([]*entity.Conversation, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*entity.Conversation
	for _, rec := range s.conversations {
		if rec.archivedBy[viewerID] || !s.isParticipantLocked(rec, viewerID) {
			continue
		}
		view := *rec.conversation
		view.UnreadCount = rec.unread[viewerID]
		all = append(all, &view)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastMessageTime.After(all[j].LastMessageTime)
	})

	total := int64(len(all))
	start := (page - 1) * limit
	if start >= len(all) {
		return nil, total
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total
}

func (s *memoryStore) isParticipantLocked(rec *conversationRecord, userID string) bool {
	for _, p := range rec.conversation.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (s *memoryStore) IsParticipant(conversationID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conversations[conversationID]
	return ok && s.isParticipantLocked(rec, userID)
}

func (s *memoryStore) ParticipantIDs(conversationID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rec.conversation.Participants))
	for _, p := range rec.conversation.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// AppendMessage stores a message and bumps directory summaries and unread
// counts for everyone but the sender.
func (s *memoryStore) AppendMessage(msg *entity.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[msg.ConversationID]
	if !ok {
		return errors.NotFound("conversation", nil)
	}

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)

	conv := rec.conversation
	conv.LastMessage = msg.Content
	conv.LastMessageTime = msg.SentAt
	conv.LastMessageSenderID = msg.SenderID
	conv.UpdatedAt = time.Now()

	for _, p := range conv.Participants {
		if p.UserID != msg.SenderID {
			rec.unread[p.UserID]++
			rec.archivedBy[p.UserID] = false
		}
	}
	return nil
}

// ListMessages returns one page, newest first, and the total count.
func (s *memoryStore) ListMessages(conversationID string, limit, offset int) ([]*entity.Message, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.messages[conversationID]
	total := int64(len(seq))

	// seq is oldest-first; page from the tail backwards
	end := len(seq) - offset
	if end <= 0 {
		return nil, total
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	page := make([]*entity.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		page = append(page, seq[i])
	}
	return page, total
}

func (s *memoryStore) MarkRead(conversationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	rec.unread[userID] = 0

	for _, m := range s.messages[conversationID] {
		if m.SenderID != userID {
			m.AdvanceStatus(entity.MessageStatusRead)
		}
	}
}

func (s *memoryStore) Archive(conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return errors.NotFound("conversation", nil)
	}
	rec.archivedBy[userID] = true
	rec.unread[userID] = 0
	return nil
}

func (s *memoryStore) DeleteMessage(conversationID, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			if m.SenderID != userID {
				return errors.Forbidden("only the sender can delete a message", nil)
			}
			m.Content = entity.DeletedMessagePlaceholder
			m.Status = entity.MessageStatusDeleted
			return nil
		}
	}
	return errors.NotFound("message", nil)
}

// UnreadConversations counts the viewer's conversations holding unread
// messages (the badge value).
func (s *memoryStore) UnreadConversations(viewerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, rec := range s.conversations {
		if !rec.archivedBy[viewerID] && rec.unread[viewerID] > 0 {
			count++
		}
	}
	return count
}
