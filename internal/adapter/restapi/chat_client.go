package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"marketlink/internal/domain/entity"
	"marketlink/internal/usecase"
	"marketlink/pkg/errors"
	"marketlink/pkg/logger"
	"marketlink/pkg/response"
)

// ChatClient consumes the marketplace chat REST surface. Every endpoint
// returns the uniform {success, data|error} envelope; failures surface as
// typed AppErrors, never panics, and are not retried here.
type ChatClient struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate

	mu        sync.RWMutex
	authToken string
}

func NewChatClient(baseURL string, httpClient *http.Client) *ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &ChatClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		validate:   validator.New(),
	}
}

// SetAuthToken installs the bearer token used on subsequent calls.
func (c *ChatClient) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *ChatClient) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authToken
}

// ListConversations fetches one directory page. pageIndex is zero-based.
func (c *ChatClient) ListConversations(ctx context.Context, pageIndex, pageSize int) ([]*entity.Conversation, int64, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(pageIndex+1))
	query.Set("limit", strconv.Itoa(pageSize))

	var conversations []*entity.Conversation
	total, err := c.getPaginated(ctx, "/chats?"+query.Encode(), &conversations)
	if err != nil {
		return nil, 0, err
	}
	return conversations, total, nil
}

func (c *ChatClient) CreateConversation(ctx context.Context, input usecase.CreateConversationInput) (*entity.Conversation, error) {
	if err := c.validate.Struct(input); err != nil {
		return nil, errors.BadRequest("invalid create conversation input", err)
	}

	var conv entity.Conversation
	if err := c.do(ctx, http.MethodPost, "/chats", input, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages fetches one message page, newest first.
func (c *ChatClient) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var messages []*entity.Message
	path := fmt.Sprintf("/chats/%s/messages?%s", url.PathEscape(conversationID), query.Encode())
	total, err := c.getPaginated(ctx, path, &messages)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (c *ChatClient) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/chats/%s/read", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *ChatClient) ArchiveConversation(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/chats/%s", url.PathEscape(conversationID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *ChatClient) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	path := fmt.Sprintf("/chats/%s/messages/%s", url.PathEscape(conversationID), url.PathEscape(messageID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *ChatClient) UnreadCount(ctx context.Context) (int, error) {
	var payload struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/chats/unread-count", nil, &payload); err != nil {
		return 0, err
	}
	return payload.Count, nil
}

// paginatedPayload mirrors response.PaginatedResponse with deferred item
// decoding.
type paginatedPayload struct {
	Items      json.RawMessage `json:"items"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	TotalPages int             `json:"totalPages"`
}

func (c *ChatClient) getPaginated(ctx context.Context, path string, items interface{}) (int64, error) {
	var payload paginatedPayload
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return 0, err
	}
	if len(payload.Items) > 0 {
		if err := json.Unmarshal(payload.Items, items); err != nil {
			return 0, errors.Request("failed to decode paginated items", err)
		}
	}
	return payload.Total, nil
}

// do executes one request and decodes the response envelope into out.
func (c *ChatClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Request("failed to encode request body", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Request("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Request("chat API request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Request("failed to read chat API response", err)
	}

	var envelope struct {
		Success bool                `json:"success"`
		Data    json.RawMessage     `json:"data"`
		Error   *response.ErrorInfo `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.Request(fmt.Sprintf("unexpected chat API response (status %d)", resp.StatusCode), err)
	}

	if !envelope.Success {
		if envelope.Error != nil {
			logger.Warn("Chat API %s %s failed: %s", method, path, envelope.Error.Code)
			return errors.New(envelope.Error.Code, envelope.Error.Message, resp.StatusCode, nil)
		}
		return errors.Request(fmt.Sprintf("chat API returned status %d", resp.StatusCode), nil)
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Request("failed to decode chat API response data", err)
		}
	}
	return nil
}
