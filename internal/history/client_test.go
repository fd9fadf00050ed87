package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticToken string

func (s staticToken) AccessToken() (string, bool) { return string(s), s != "" }

func TestFetchMessages(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/C1/messages" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]any{
				{"message_id": "m2", "sender_id": "bob", "content": "second", "timestamp": 2000, "read_by": []string{"me"}},
				{"message_id": "m1", "sender_id": "bob", "content": "first", "timestamp": 1000},
			},
			"has_more": true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, staticToken("tok"))
	page, err := c.FetchMessages(context.Background(), "C1", 20, "m3")
	if err != nil {
		t.Fatalf("FetchMessages() error = %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotQuery != "before=m3&limit=20" {
		t.Errorf("query = %q", gotQuery)
	}
	if !page.HasMore || len(page.Messages) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if page.Messages[0].ID != "m1" || page.Messages[1].ID != "m2" {
		t.Errorf("order = %s, %s; want oldest first", page.Messages[0].ID, page.Messages[1].ID)
	}
	if page.Messages[1].ConversationID != "C1" || !page.Messages[1].ReadBy["me"] || page.Messages[1].Type != "text" {
		t.Errorf("message = %+v", page.Messages[1])
	}
}

func TestFetchConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversations":[{"id":"G1","type":"group","name":"team","participants":["me","bob"],"unread_count":3,"updated_at":5000,"last_message":{"message_id":"m9","sender_id":"bob","content":"hi","timestamp":5000}}]}`))
	}))
	defer srv.Close()

	convs, err := New(srv.URL, nil).FetchConversations(context.Background())
	if err != nil {
		t.Fatalf("FetchConversations() error = %v", err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations", len(convs))
	}
	c := convs[0]
	if c.Type != "group" || c.UnreadCount != 3 || c.LastMessage == nil || c.LastMessage.ConversationID != "G1" {
		t.Errorf("conversation = %+v", c)
	}
}

func TestCreatePrivateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/conversations/private" {
			http.Error(w, "bad route", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			UserID string `json:"user_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "P-" + req.UserID, "participants": []string{"me", req.UserID}})
	}))
	defer srv.Close()

	conv, err := New(srv.URL, nil).CreatePrivateConversation(context.Background(), "bob")
	if err != nil {
		t.Fatalf("CreatePrivateConversation() error = %v", err)
	}
	if conv.ID != "P-bob" || conv.Type != "private" {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"code":"unauthorized","message":"token expired"}`, ErrUnauthorized},
		{http.StatusForbidden, ``, ErrForbidden},
		{http.StatusNotFound, `{"code":"not_found"}`, ErrNotFound},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(tt.body))
		}))
		_, err := New(srv.URL, nil).FetchConversations(context.Background())
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestServerErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"internal","message":"db down"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).FetchConversations(context.Background())
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Message != "db down" {
		t.Errorf("error = %v, want apiError", err)
	}
}
