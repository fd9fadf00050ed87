// Package cache is the client-side conversation and message store that UI
// layers read. Reads return copies; writes preserve list ordering.
package cache

import "time"

// ConversationType distinguishes one-to-one from group conversations.
type ConversationType string

const (
	Private ConversationType = "private"
	Group   ConversationType = "group"
)

// Message is one entry of a conversation's message list. Optimistic
// entries carry the correlation id of the send that created them.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Type           string
	Timestamp      time.Time
	ReadBy         map[string]bool
	Optimistic     bool
	CorrelationID  string
}

func (m *Message) clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.ReadBy = make(map[string]bool, len(m.ReadBy))
	for k, v := range m.ReadBy {
		c.ReadBy[k] = v
	}
	return &c
}

// Conversation is a cache entry for the conversation list.
type Conversation struct {
	ID           string
	Type         ConversationType
	Name         string
	Participants []string
	Presence     map[string]Presence
	LastMessage  *Message
	UnreadCount  int
	UpdatedAt    time.Time
}

func (c *Conversation) clone() *Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.Presence = make(map[string]Presence, len(c.Presence))
	for k, v := range c.Presence {
		out.Presence[k] = v
	}
	out.LastMessage = c.LastMessage.clone()
	return &out
}

// Presence is a participant's last known status.
type Presence struct {
	Status   string
	LastSeen time.Time
}

// TypingState is the remote typing flag for one conversation.
type TypingState struct {
	IsTyping bool
	UserID   string
	Since    time.Time
}

// Snapshot is a serializable copy of the server-confirmed cache contents.
type Snapshot struct {
	Conversations []*Conversation
	Messages      map[string][]*Message
}
