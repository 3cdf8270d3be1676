package usecase

import (
	"context"
	"sync"

	"marketlink/internal/domain/entity"
	"marketlink/pkg/logger"
)

// MessageReconciler owns the per-conversation message sequences. Sequences are
// kept oldest-first. Insertion is exactly-once-effective across the three
// sources feeding it: REST history pages, live transport pushes, and local
// optimistic sends.
type MessageReconciler struct {
	mu          sync.Mutex
	api         ChatAPI
	localUserID string
	pageSize    int

	sequences map[string][]*entity.Message
	totals    map[string]int64
}

func NewMessageReconciler(api ChatAPI, localUserID string, pageSize int) *MessageReconciler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &MessageReconciler{
		api:         api,
		localUserID: localUserID,
		pageSize:    pageSize,
		sequences:   make(map[string][]*entity.Message),
		totals:      make(map[string]int64),
	}
}

// Load fetches the newest history page and resets the sequence. The server
// returns newest-first; the in-memory sequence is oldest-first. commit, when
// non-nil, is evaluated under the lock once the fetch resolves and before
// anything is replaced; returning false abandons the fetched page, so a load
// that outlived its selection cannot wipe messages that arrived in flight.
func (r *MessageReconciler) Load(ctx context.Context, conversationID string, commit func() bool) error {
	messages, total, err := r.api.ListMessages(ctx, conversationID, r.pageSize, 0)
	if err != nil {
		logger.Error("Failed to load messages for %s: %v", conversationID, err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if commit != nil && !commit() {
		return nil
	}
	r.sequences[conversationID] = reverseChronological(messages)
	r.totals[conversationID] = total
	return nil
}

// LoadOlder pages in the next batch of history, keyed by the current sequence
// length, and prepends it. Pagination only prepends; it never interleaves into
// the live tail, so a late-resolving page cannot reorder displayed messages.
// commit works as in Load; a discarded page reports no more history.
func (r *MessageReconciler) LoadOlder(ctx context.Context, conversationID string, commit func() bool) (bool, error) {
	r.mu.Lock()
	offset := len(r.sequences[conversationID])
	r.mu.Unlock()

	messages, total, err := r.api.ListMessages(ctx, conversationID, r.pageSize, offset)
	if err != nil {
		logger.Error("Failed to load older messages for %s: %v", conversationID, err)
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if commit != nil && !commit() {
		return false, nil
	}

	older := reverseChronological(messages)
	existing := make(map[string]bool, len(r.sequences[conversationID]))
	for _, m := range r.sequences[conversationID] {
		existing[m.ID] = true
	}
	fresh := older[:0]
	for _, m := range older {
		if !existing[m.ID] {
			fresh = append(fresh, m)
		}
	}
	r.sequences[conversationID] = append(fresh, r.sequences[conversationID]...)
	r.totals[conversationID] = total

	return int64(len(r.sequences[conversationID])) < total, nil
}

// AppendLocal appends an optimistic placeholder carrying a provisional id.
// The placeholder stays in place until a confirmed message replaces it; a
// failed transport send leaves it unconfirmed rather than rolling it back.
func (r *MessageReconciler) AppendLocal(msg *entity.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences[msg.ConversationID] = append(r.sequences[msg.ConversationID], msg)
}

// ApplyInbound inserts a server-confirmed message. Duplicates by id are
// discarded. A matching optimistic placeholder, found by the echoed temp id or
// by content+sender as a fallback, is replaced in place so list positions are
// preserved instead of appending a duplicate.
func (r *MessageReconciler) ApplyInbound(msg *entity.Message, tempID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.sequences[msg.ConversationID]

	for _, m := range seq {
		if m.ID == msg.ID {
			return false
		}
	}

	if idx := r.findPlaceholderLocked(seq, msg, tempID); idx >= 0 {
		r.sequences[msg.ConversationID][idx] = msg
		return true
	}

	r.sequences[msg.ConversationID] = append(seq, msg)
	return true
}

func (r *MessageReconciler) findPlaceholderLocked(seq []*entity.Message, msg *entity.Message, tempID string) int {
	if tempID != "" {
		for i, m := range seq {
			if m.ID == tempID {
				return i
			}
		}
	}
	for i, m := range seq {
		if m.IsProvisional() && m.Content == msg.Content && m.SenderID == msg.SenderID {
			return i
		}
	}
	return -1
}

// ApplyReadReceipt flips every locally-authored message in the conversation to
// read. The receipt means "the peer has read up through now", so this is a
// bulk transition, not a single-message one.
func (r *MessageReconciler) ApplyReadReceipt(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	flipped := 0
	for _, m := range r.sequences[conversationID] {
		if m.SenderID != r.localUserID || m.Status == entity.MessageStatusDeleted {
			continue
		}
		if m.Status != entity.MessageStatusRead {
			m.AdvanceStatus(entity.MessageStatusRead)
			flipped++
		}
	}
	return flipped
}

// Delete soft-deletes a message: the REST call removes it server-side, then
// the local copy keeps its position with placeholder content and a terminal
// deleted status.
func (r *MessageReconciler) Delete(ctx context.Context, conversationID, messageID string) error {
	if err := r.api.DeleteMessage(ctx, conversationID, messageID); err != nil {
		logger.Error("Failed to delete message %s: %v", messageID, err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.sequences[conversationID] {
		if m.ID == messageID {
			m.Content = entity.DeletedMessagePlaceholder
			m.Status = entity.MessageStatusDeleted
			break
		}
	}
	return nil
}

// Messages returns a snapshot of the conversation's sequence, oldest first.
func (r *MessageReconciler) Messages(conversationID string) []*entity.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.sequences[conversationID]
	out := make([]*entity.Message, len(seq))
	copy(out, seq)
	return out
}

// Clear drops the sequence for one conversation (used on archive).
func (r *MessageReconciler) Clear(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sequences, conversationID)
	delete(r.totals, conversationID)
}

// reverseChronological turns a newest-first page into oldest-first order.
func reverseChronological(messages []*entity.Message) []*entity.Message {
	out := make([]*entity.Message, len(messages))
	for i, m := range messages {
		out[len(messages)-1-i] = m
	}
	return out
}
