// Package history is the HTTP collaborator the engine uses for paginated
// message history and conversation management.
package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	AccessToken() (string, bool)
}

// Client talks to the chat server's REST API.
type Client struct {
	BaseURL string
	Tokens  TokenSource
	HTTP    *http.Client
}

var _ intsync.History = (*Client)(nil)

// New creates a history client.
func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL: baseURL,
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

type conversationJSON struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Name         string       `json:"name"`
	Participants []string     `json:"participants"`
	UnreadCount  int          `json:"unread_count"`
	UpdatedAt    int64        `json:"updated_at"`
	LastMessage  *messageJSON `json:"last_message,omitempty"`
}

type messageJSON struct {
	MessageID      string   `json:"message_id"`
	ConversationID string   `json:"conversation_id"`
	SenderID       string   `json:"sender_id"`
	Content        string   `json:"content"`
	MessageType    string   `json:"message_type"`
	Timestamp      int64    `json:"timestamp"`
	ReadBy         []string `json:"read_by,omitempty"`
}

type conversationsResponse struct {
	Conversations []conversationJSON `json:"conversations"`
}

type messagesResponse struct {
	Messages     []messageJSON `json:"messages"`
	HasMore      bool          `json:"has_more"`
	NextBeforeID string        `json:"next_before_id,omitempty"`
}

type createPrivateRequest struct {
	UserID string `json:"user_id"`
}

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// FetchConversations returns the user's conversations.
func (c *Client) FetchConversations(ctx context.Context) ([]cache.Conversation, error) {
	var resp conversationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]cache.Conversation, 0, len(resp.Conversations))
	for _, cj := range resp.Conversations {
		out = append(out, cj.toCache())
	}
	return out, nil
}

// FetchMessages returns up to limit messages older than beforeMessageID,
// oldest first. An empty beforeMessageID starts from the newest message.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int, beforeMessageID string) (intsync.HistoryPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if beforeMessageID != "" {
		q.Set("before", beforeMessageID)
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp messagesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return intsync.HistoryPage{}, err
	}
	page := intsync.HistoryPage{HasMore: resp.HasMore, NextBeforeID: resp.NextBeforeID}
	for _, mj := range resp.Messages {
		m := mj.toCache()
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		page.Messages = append(page.Messages, m)
	}
	sort.SliceStable(page.Messages, func(i, j int) bool {
		return page.Messages[i].Timestamp.Before(page.Messages[j].Timestamp)
	})
	return page, nil
}

// CreatePrivateConversation creates or returns the one-to-one conversation with targetUserID.
func (c *Client) CreatePrivateConversation(ctx context.Context, targetUserID string) (cache.Conversation, error) {
	var resp conversationJSON
	if err := c.do(ctx, http.MethodPost, "/api/conversations/private", createPrivateRequest{UserID: targetUserID}, &resp); err != nil {
		return cache.Conversation{}, err
	}
	conv := resp.toCache()
	if conv.Type == "" {
		conv.Type = cache.Private
	}
	return conv, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Tokens != nil {
		if token, ok := c.Tokens.AccessToken(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.Unmarshal(respBody, &apiErr)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		}
		if apiErr.Code != "" {
			return &apiErr
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (cj conversationJSON) toCache() cache.Conversation {
	c := cache.Conversation{
		ID:           cj.ID,
		Type:         cache.ConversationType(cj.Type),
		Name:         cj.Name,
		Participants: cj.Participants,
		UnreadCount:  cj.UnreadCount,
	}
	if cj.UpdatedAt > 0 {
		c.UpdatedAt = time.UnixMilli(cj.UpdatedAt)
	}
	if cj.LastMessage != nil {
		m := cj.LastMessage.toCache()
		if m.ConversationID == "" {
			m.ConversationID = cj.ID
		}
		c.LastMessage = &m
	}
	return c
}

func (mj messageJSON) toCache() cache.Message {
	m := cache.Message{
		ID:             mj.MessageID,
		ConversationID: mj.ConversationID,
		SenderID:       mj.SenderID,
		Content:        mj.Content,
		Type:           mj.MessageType,
		Timestamp:      time.UnixMilli(mj.Timestamp),
		ReadBy:         make(map[string]bool, len(mj.ReadBy)),
	}
	if m.Type == "" {
		m.Type = "text"
	}
	for _, r := range mj.ReadBy {
		m.ReadBy[r] = true
	}
	return m
}
