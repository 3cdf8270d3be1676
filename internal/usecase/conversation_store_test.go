package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketlink/internal/domain/entity"
)

func conversation(id string, lastMessageAt time.Time) *entity.Conversation {
	return &entity.Conversation{
		ID:              id,
		LastMessageTime: lastMessageAt,
		Participants: []entity.Participant{
			{UserID: "me"},
			{UserID: "peer-" + id, DisplayName: "Peer " + id},
		},
	}
}

func TestLoadPageReplacesThenAppends(t *testing.T) {
	api := newFakeChatAPI()
	now := time.Now()
	api.conversationPages[0] = []*entity.Conversation{conversation("a", now), conversation("b", now.Add(-time.Hour))}
	api.conversationPages[1] = []*entity.Conversation{conversation("c", now.Add(-2*time.Hour))}
	api.conversationTotal = 3

	s := NewConversationStore(api, "me")
	require.NoError(t, s.LoadPage(context.Background(), 0, 2))
	assert.Len(t, s.Conversations(), 2)
	assert.True(t, s.HasMore())

	require.NoError(t, s.LoadPage(context.Background(), 1, 2))
	convs := s.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{convs[0].ID, convs[1].ID, convs[2].ID})
	assert.False(t, s.HasMore())

	// page 0 again replaces instead of duplicating
	require.NoError(t, s.LoadPage(context.Background(), 0, 2))
	assert.Len(t, s.Conversations(), 2)
}

func TestApplyInboundMessageUpdatesSummaryAndOrder(t *testing.T) {
	api := newFakeChatAPI()
	now := time.Now()
	api.conversationPages[0] = []*entity.Conversation{conversation("a", now), conversation("b", now.Add(-time.Hour))}
	api.conversationTotal = 2

	s := NewConversationStore(api, "me")
	require.NoError(t, s.LoadPage(context.Background(), 0, 20))

	msg := confirmedMessage("m1", "b", "peer-b", "newest activity", now.Add(time.Minute))
	s.ApplyInboundMessage(msg, false)

	convs := s.Conversations()
	assert.Equal(t, "b", convs[0].ID)
	assert.Equal(t, "newest activity", convs[0].LastMessage)
	assert.Equal(t, "peer-b", convs[0].LastMessageSenderID)
	assert.Equal(t, 1, convs[0].UnreadCount)
}

func TestUnreadSuppressedForActiveAndOwnMessages(t *testing.T) {
	api := newFakeChatAPI()
	now := time.Now()
	api.conversationPages[0] = []*entity.Conversation{conversation("a", now)}
	api.conversationTotal = 1

	s := NewConversationStore(api, "me")
	require.NoError(t, s.LoadPage(context.Background(), 0, 20))
	require.NoError(t, s.MarkActive(context.Background(), "a"))

	s.ApplyInboundMessage(confirmedMessage("m1", "a", "peer-a", "hi", now), false)
	assert.Equal(t, 0, s.Get("a").UnreadCount, "active conversation must not accrue unread")

	require.NoError(t, s.MarkActive(context.Background(), ""))
	s.ApplyInboundMessage(confirmedMessage("m2", "a", "me", "mine", now), true)
	assert.Equal(t, 0, s.Get("a").UnreadCount, "own messages must not accrue unread")

	s.ApplyInboundMessage(confirmedMessage("m3", "a", "peer-a", "hello", now), false)
	assert.Equal(t, 1, s.Get("a").UnreadCount)
}

func TestUnreadBadgeCountsConversationsNotMessages(t *testing.T) {
	api := newFakeChatAPI()
	now := time.Now()
	a := conversation("a", now)
	a.UnreadCount = 7
	b := conversation("b", now.Add(-time.Minute))
	b.UnreadCount = 1
	c := conversation("c", now.Add(-time.Hour))
	api.conversationPages[0] = []*entity.Conversation{a, b, c}
	api.conversationTotal = 3

	s := NewConversationStore(api, "me")
	require.NoError(t, s.LoadPage(context.Background(), 0, 20))

	assert.Equal(t, 2, s.UnreadConversations())
}

func TestMarkActiveZeroesUnreadAndCallsMarkRead(t *testing.T) {
	api := newFakeChatAPI()
	a := conversation("a", time.Now())
	a.UnreadCount = 50
	api.conversationPages[0] = []*entity.Conversation{a}
	api.conversationTotal = 1

	s := NewConversationStore(api, "me")
	require.NoError(t, s.LoadPage(context.Background(), 0, 20))

	require.NoError(t, s.MarkActive(context.Background(), "a"))
	assert.Equal(t, 0, s.Get("a").UnreadCount)
	assert.Equal(t, []string{"a"}, api.markReadCalls)

	// clearing the active pointer has no side effects
	require.NoError(t, s.MarkActive(context.Background(), ""))
	assert.Empty(t, api.markReadCalls[1:])
}

func TestInboundMessageForUnknownConversationMaterializesIt(t *testing.T) {
	s := NewConversationStore(newFakeChatAPI(), "me")

	msg := confirmedMessage("m1", "ghost", "stranger", "hello?", time.Now())
	msg.SenderName = "A Stranger"
	s.ApplyInboundMessage(msg, false)

	conv := s.Get("ghost")
	require.NotNil(t, conv, "inbound event is authoritative; the record must exist")
	assert.Equal(t, 1, conv.UnreadCount)
	assert.Equal(t, "hello?", conv.LastMessage)
	require.Len(t, conv.Participants, 1)
	assert.Equal(t, "A Stranger", conv.Participants[0].DisplayName)
}

func TestArchiveRemovesAndClearsActive(t *testing.T) {
	api := newFakeChatAPI()
	now := time.Now()
	api.conversationPages[0] = []*entity.Conversation{conversation("a", now), conversation("b", now.Add(-time.Minute))}
	api.conversationTotal = 2

	s := NewConversationStore(api, "me")
	require.NoError(t, s.LoadPage(context.Background(), 0, 20))
	require.NoError(t, s.MarkActive(context.Background(), "a"))

	wasActive, err := s.Archive(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, wasActive)
	assert.Equal(t, "", s.Active())
	assert.Nil(t, s.Get("a"))
	assert.Equal(t, []string{"a"}, api.archiveCalls)

	wasActive, err = s.Archive(context.Background(), "b")
	require.NoError(t, err)
	assert.False(t, wasActive)
	assert.Empty(t, s.Conversations())
}

func TestApplyPresenceFlipsParticipants(t *testing.T) {
	api := newFakeChatAPI()
	api.conversationPages[0] = []*entity.Conversation{conversation("a", time.Now())}
	api.conversationTotal = 1

	s := NewConversationStore(api, "me")
	require.NoError(t, s.LoadPage(context.Background(), 0, 20))

	s.ApplyPresence("peer-a", true)
	assert.True(t, s.Get("a").Peer("me").Online)

	s.ApplyPresence("peer-a", false)
	assert.False(t, s.Get("a").Peer("me").Online)
}
