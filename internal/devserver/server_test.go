package devserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketlink/internal/domain/entity"
	"marketlink/pkg/config"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(&config.Config{JWTSecret: "test-secret", Environment: "development"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body interface{}) (int, apiEnvelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope apiEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp.StatusCode, envelope
}

func devToken(t *testing.T, ts *httptest.Server, userID, username string) string {
	t.Helper()
	status, envelope := call(t, ts, http.MethodPost, "/v1/dev/token", "", map[string]string{
		"user_id":  userID,
		"username": username,
	})
	require.Equal(t, http.StatusOK, status)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))
	require.NotEmpty(t, payload["token"])
	return payload["token"]
}

type page struct {
	Items json.RawMessage `json:"items"`
	Total int64           `json:"total"`
}

func decodePage(t *testing.T, envelope apiEnvelope, items interface{}) int64 {
	t.Helper()
	var p page
	require.NoError(t, json.Unmarshal(envelope.Data, &p))
	if len(p.Items) > 0 {
		require.NoError(t, json.Unmarshal(p.Items, items))
	}
	return p.Total
}

func TestChatEndpointsRequireAuth(t *testing.T) {
	_, ts := newTestServer(t)

	status, _ := call(t, ts, http.MethodGet, "/v1/chats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = call(t, ts, http.MethodGet, "/v1/chats", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCreateConversationVisibleToBothSides(t *testing.T) {
	_, ts := newTestServer(t)
	alice := devToken(t, ts, "alice", "Alice")
	bob := devToken(t, ts, "bob", "Bob")

	status, envelope := call(t, ts, http.MethodPost, "/v1/chats", alice, map[string]string{
		"recipient_id":    "bob",
		"initial_message": "Is this still available?",
	})
	require.Equal(t, http.StatusCreated, status)
	require.True(t, envelope.Success)

	var created entity.Conversation
	require.NoError(t, json.Unmarshal(envelope.Data, &created))
	require.NotEmpty(t, created.ID)

	// the initial message lands unread on bob's side only
	var aliceConvs []*entity.Conversation
	_, envelope = call(t, ts, http.MethodGet, "/v1/chats", alice, nil)
	decodePage(t, envelope, &aliceConvs)
	require.Len(t, aliceConvs, 1)
	assert.Zero(t, aliceConvs[0].UnreadCount)
	assert.Equal(t, "Is this still available?", aliceConvs[0].LastMessage)

	var bobConvs []*entity.Conversation
	_, envelope = call(t, ts, http.MethodGet, "/v1/chats", bob, nil)
	decodePage(t, envelope, &bobConvs)
	require.Len(t, bobConvs, 1)
	assert.Equal(t, 1, bobConvs[0].UnreadCount)

	_, envelope = call(t, ts, http.MethodGet, "/v1/chats/unread-count", bob, nil)
	var count map[string]int
	require.NoError(t, json.Unmarshal(envelope.Data, &count))
	assert.Equal(t, 1, count["count"])
}

func TestListMessagesPagesNewestFirst(t *testing.T) {
	srv, ts := newTestServer(t)
	alice := devToken(t, ts, "alice", "Alice")
	devToken(t, ts, "bob", "Bob")

	conv, _ := srv.store.CreateConversation("alice", "bob", "", "")
	for i := 0; i < 25; i++ {
		require.NoError(t, srv.store.AppendMessage(&entity.Message{
			ID:             fmt.Sprintf("m%02d", i),
			ConversationID: conv.ID,
			SenderID:       "alice",
			Content:        fmt.Sprintf("message %d", i),
			Type:           entity.MessageTypeText,
			Status:         entity.MessageStatusSent,
		}))
	}

	var first []*entity.Message
	_, envelope := call(t, ts, http.MethodGet, "/v1/chats/"+conv.ID+"/messages?limit=20&offset=0", alice, nil)
	total := decodePage(t, envelope, &first)
	assert.Equal(t, int64(25), total)
	require.Len(t, first, 20)
	assert.Equal(t, "m24", first[0].ID, "first page starts at the newest message")

	var second []*entity.Message
	_, envelope = call(t, ts, http.MethodGet, "/v1/chats/"+conv.ID+"/messages?limit=20&offset=20", alice, nil)
	decodePage(t, envelope, &second)
	require.Len(t, second, 5)
	assert.Equal(t, "m04", second[0].ID)
	assert.Equal(t, "m00", second[4].ID)
}

func TestMessagesForbiddenForOutsiders(t *testing.T) {
	srv, ts := newTestServer(t)
	devToken(t, ts, "alice", "Alice")
	devToken(t, ts, "bob", "Bob")
	eve := devToken(t, ts, "eve", "Eve")

	conv, _ := srv.store.CreateConversation("alice", "bob", "", "hello")

	status, envelope := call(t, ts, http.MethodGet, "/v1/chats/"+conv.ID+"/messages", eve, nil)
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "FORBIDDEN", envelope.Error.Code)
}

func TestMarkReadClearsUnread(t *testing.T) {
	srv, ts := newTestServer(t)
	devToken(t, ts, "alice", "Alice")
	bob := devToken(t, ts, "bob", "Bob")

	conv, _ := srv.store.CreateConversation("alice", "bob", "", "ping")

	status, _ := call(t, ts, http.MethodPut, "/v1/chats/"+conv.ID+"/read", bob, nil)
	require.Equal(t, http.StatusOK, status)

	_, envelope := call(t, ts, http.MethodGet, "/v1/chats/unread-count", bob, nil)
	var count map[string]int
	require.NoError(t, json.Unmarshal(envelope.Data, &count))
	assert.Zero(t, count["count"])
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	srv, ts := newTestServer(t)
	alice := devToken(t, ts, "alice", "Alice")
	bob := devToken(t, ts, "bob", "Bob")

	conv, msg := srv.store.CreateConversation("alice", "bob", "", "delete me")
	require.NotNil(t, msg)
	path := "/v1/chats/" + conv.ID + "/messages/" + msg.ID

	status, envelope := call(t, ts, http.MethodDelete, path, bob, nil)
	assert.Equal(t, http.StatusForbidden, status)
	require.NotNil(t, envelope.Error)

	status, _ = call(t, ts, http.MethodDelete, path, alice, nil)
	require.Equal(t, http.StatusOK, status)

	var messages []*entity.Message
	_, envelope = call(t, ts, http.MethodGet, "/v1/chats/"+conv.ID+"/messages", alice, nil)
	decodePage(t, envelope, &messages)
	require.Len(t, messages, 1)
	assert.Equal(t, entity.DeletedMessagePlaceholder, messages[0].Content)
	assert.Equal(t, entity.MessageStatusDeleted, messages[0].Status)
}

func TestArchiveHidesConversationUntilNewActivity(t *testing.T) {
	srv, ts := newTestServer(t)
	alice := devToken(t, ts, "alice", "Alice")
	bob := devToken(t, ts, "bob", "Bob")

	conv, _ := srv.store.CreateConversation("alice", "bob", "", "hello")

	status, _ := call(t, ts, http.MethodDelete, "/v1/chats/"+conv.ID, bob, nil)
	require.Equal(t, http.StatusOK, status)

	var bobConvs []*entity.Conversation
	_, envelope := call(t, ts, http.MethodGet, "/v1/chats", bob, nil)
	decodePage(t, envelope, &bobConvs)
	assert.Empty(t, bobConvs, "archived conversation must leave bob's directory")

	var aliceConvs []*entity.Conversation
	_, envelope = call(t, ts, http.MethodGet, "/v1/chats", alice, nil)
	decodePage(t, envelope, &aliceConvs)
	assert.Len(t, aliceConvs, 1, "archive is per user")

	// new activity resurfaces the conversation
	require.NoError(t, srv.store.AppendMessage(&entity.Message{
		ID:             "m-new",
		ConversationID: conv.ID,
		SenderID:       "alice",
		Content:        "still there?",
		Type:           entity.MessageTypeText,
		Status:         entity.MessageStatusSent,
	}))

	_, envelope = call(t, ts, http.MethodGet, "/v1/chats", bob, nil)
	bobConvs = nil
	decodePage(t, envelope, &bobConvs)
	require.Len(t, bobConvs, 1)
	assert.Equal(t, 1, bobConvs[0].UnreadCount, "archive also cleared the earlier unread")
}

func TestCreateConversationWithProductContext(t *testing.T) {
	_, ts := newTestServer(t)
	alice := devToken(t, ts, "alice", "Alice")
	devToken(t, ts, "bob", "Bob")

	status, envelope := call(t, ts, http.MethodPost, "/v1/chats", alice, map[string]string{
		"recipient_id": "bob",
		"product_id":   "prod-42",
	})
	require.Equal(t, http.StatusCreated, status)

	var created entity.Conversation
	require.NoError(t, json.Unmarshal(envelope.Data, &created))
	require.NotNil(t, created.Product)
	assert.Equal(t, "prod-42", created.Product.ProductID)
}

func TestCreateConversationRateLimited(t *testing.T) {
	_, ts := newTestServer(t)
	alice := devToken(t, ts, "alice", "Alice")

	for i := 0; i < 5; i++ {
		peer := fmt.Sprintf("peer-%d", i)
		devToken(t, ts, peer, peer)
		status, _ := call(t, ts, http.MethodPost, "/v1/chats", alice, map[string]string{
			"recipient_id": peer,
		})
		require.Equal(t, http.StatusCreated, status)
	}

	status, envelope := call(t, ts, http.MethodPost, "/v1/chats", alice, map[string]string{
		"recipient_id": "one-peer-too-many",
	})
	assert.Equal(t, http.StatusTooManyRequests, status)
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "TOO_MANY_REQUESTS", envelope.Error.Code)
}
