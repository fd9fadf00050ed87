package api

import (
	"sort"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
)

// Message is the JSON form of a cached message. Times are unix milliseconds.
type Message struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	SenderID       string   `json:"sender_id"`
	Content        string   `json:"content"`
	Type           string   `json:"type"`
	Timestamp      int64    `json:"timestamp"`
	ReadBy         []string `json:"read_by,omitempty"`
	Pending        bool     `json:"pending,omitempty"`
	CorrelationID  string   `json:"correlation_id,omitempty"`
}

// Conversation is the JSON form of a cached conversation.
type Conversation struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	Name         string              `json:"name,omitempty"`
	Participants []string            `json:"participants,omitempty"`
	Presence     map[string]Presence `json:"presence,omitempty"`
	LastMessage  *Message            `json:"last_message,omitempty"`
	UnreadCount  int                 `json:"unread_count"`
	UpdatedAt    int64               `json:"updated_at"`
	Typing       string              `json:"typing,omitempty"`
}

// Presence is the JSON form of a participant's presence.
type Presence struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func messageToJSON(m cache.Message) Message {
	out := Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           m.Type,
		Timestamp:      unixMillis(m.Timestamp),
		Pending:        m.Optimistic,
		CorrelationID:  m.CorrelationID,
	}
	for id, ok := range m.ReadBy {
		if ok {
			out.ReadBy = append(out.ReadBy, id)
		}
	}
	sort.Strings(out.ReadBy)
	return out
}

func conversationToJSON(c cache.Conversation, typing cache.TypingState) Conversation {
	out := Conversation{
		ID:           c.ID,
		Type:         string(c.Type),
		Name:         c.Name,
		Participants: c.Participants,
		UnreadCount:  c.UnreadCount,
		UpdatedAt:    unixMillis(c.UpdatedAt),
	}
	if len(c.Presence) > 0 {
		out.Presence = make(map[string]Presence, len(c.Presence))
		for id, p := range c.Presence {
			out.Presence[id] = Presence{Status: p.Status, LastSeen: unixMillis(p.LastSeen)}
		}
	}
	if c.LastMessage != nil {
		m := messageToJSON(*c.LastMessage)
		out.LastMessage = &m
	}
	if typing.IsTyping {
		out.Typing = typing.UserID
	}
	return out
}
