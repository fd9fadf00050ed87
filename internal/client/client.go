// Package client talks to a running chatsyncd over its Unix sockets.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/chatsync/internal/api"
)

// baseURL is a placeholder host; every request is dialed to the socket.
const baseURL = "http://chatsyncd"

// APIError is a non-2xx response from the control API.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

// Client wraps an HTTP client for the control socket and a gRPC
// connection for the health socket.
type Client struct {
	http   *http.Client
	conn   *grpc.ClientConn
	Health healthpb.HealthClient
}

// New prepares clients for the daemon's sockets. Nothing is dialed until
// the first call.
func New(socketPath, healthSocketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+healthSocketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon health: %w", err)
	}

	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		conn:   conn,
		Health: healthpb.NewHealthClient(conn),
	}, nil
}

// Close closes the gRPC connection and idle HTTP connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return c.conn.Close()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var st api.StatusResponse
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st)
	return st, err
}

// Connect blocks until the daemon is authenticated or gives up.
func (c *Client) Connect(ctx context.Context) (api.StatusResponse, error) {
	var st api.StatusResponse
	err := c.do(ctx, http.MethodPost, "/v1/connect", nil, &st)
	return st, err
}

func (c *Client) Disconnect(ctx context.Context) (api.StatusResponse, error) {
	var st api.StatusResponse
	err := c.do(ctx, http.MethodPost, "/v1/disconnect", nil, &st)
	return st, err
}

// SetToken stores a new access token. An empty token makes the daemon
// re-read its configured token source.
func (c *Client) SetToken(ctx context.Context, token string) (changed bool, err error) {
	body := map[string]any{"token": token}
	if token == "" {
		body = map[string]any{"reload": true}
	}
	var out struct {
		Changed bool `json:"changed"`
	}
	err = c.do(ctx, http.MethodPost, "/v1/credentials", body, &out)
	return out.Changed, err
}

// Activity is a UI activity report; nil fields are left unchanged.
type Activity struct {
	Foreground         *bool   `json:"foreground,omitempty"`
	Screen             *string `json:"screen,omitempty"`
	ActiveConversation *string `json:"active_conversation,omitempty"`
	Pulse              bool    `json:"pulse,omitempty"`
}

// ReportActivity feeds the daemon's idle monitor.
func (c *Client) ReportActivity(ctx context.Context, a Activity) (api.StatusResponse, error) {
	var st api.StatusResponse
	err := c.do(ctx, http.MethodPost, "/v1/activity", a, &st)
	return st, err
}

func (c *Client) Conversations(ctx context.Context) ([]api.Conversation, error) {
	var out struct {
		Conversations []api.Conversation `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/conversations", nil, &out)
	return out.Conversations, err
}

// Messages returns the newest limit messages, oldest first. Zero means all cached.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]api.Message, error) {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Messages []api.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Messages, err
}

// LoadHistory asks the daemon to fetch an older page from the history API.
func (c *Client) LoadHistory(ctx context.Context, conversationID string, limit int) (hasMore bool, err error) {
	var out struct {
		HasMore bool `json:"has_more"`
	}
	err = c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/history",
		map[string]int{"limit": limit}, &out)
	return out.HasMore, err
}

// Send blocks until the server confirms delivery and returns its message id.
func (c *Client) Send(ctx context.Context, conversationID, text string) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/messages",
		map[string]string{"text": text}, &out)
	return out.MessageID, err
}

// MarkRead acknowledges messageID, or the whole conversation when it is empty.
func (c *Client) MarkRead(ctx context.Context, conversationID, messageID string) error {
	var body any
	if messageID != "" {
		body = map[string]string{"message_id": messageID}
	}
	return c.do(ctx, http.MethodPost, "/v1/conversations/"+url.PathEscape(conversationID)+"/read", body, nil)
}

func (c *Client) Search(ctx context.Context, query, conversationID string, limit int) ([]api.Message, error) {
	q := url.Values{"q": {query}}
	if conversationID != "" {
		q.Set("conversation", conversationID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Messages []api.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/search?"+q.Encode(), nil, &out)
	return out.Messages, err
}

// Watch streams events whose kind starts with namespace until ctx ends or
// fn returns an error.
func (c *Client) Watch(ctx context.Context, namespace string, fn func(api.Envelope) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL+"/v1/events?namespace="+url.QueryEscape(namespace), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Code: "http_error", Message: resp.Status}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var env api.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(env); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}

// Check queries the health service; "" is the daemon itself.
func (c *Client) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	return c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}
