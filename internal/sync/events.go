package sync

import (
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/status"
)

// Event kinds published to subscribers. Kinds under bus.ErrorNamespace are
// failure notices; everything else is new data.
const (
	EventStateChanged        = status.EventStateChanged
	EventMessageReceived     = "message.received"
	EventMessagePending      = "message.pending"
	EventMessageSent         = "message.sent"
	EventMessageFailed       = "message.failed"
	EventMessageRead         = "message.read"
	EventTypingChanged       = "typing.changed"
	EventPresenceUpdated     = "presence.updated"
	EventConversationUpdated = "conversation.updated"
	EventConversationRead    = "conversation.read"

	EventProtocolError      = bus.ErrorNamespace + "protocol"
	EventTransportError     = bus.ErrorNamespace + "transport"
	EventAuthError          = bus.ErrorNamespace + "auth"
	EventReconnectExhausted = bus.ErrorNamespace + "reconnect_exhausted"
)

// MessageEvent is the payload of message.received and message.pending.
type MessageEvent struct {
	Message cache.Message
}

// SendEvent is the payload of message.sent and message.failed.
type SendEvent struct {
	ConversationID  string
	CorrelationID   string
	ServerMessageID string
	Err             error
}

// ReadEvent is the payload of message.read.
type ReadEvent struct {
	ConversationID string
	MessageID      string
	ReaderID       string
}

// TypingEvent is the payload of typing.changed.
type TypingEvent struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

// PresenceEvent is the payload of presence.updated.
type PresenceEvent struct {
	UserID        string
	Presence      cache.Presence
	Conversations []string
}

// ConversationEvent is the payload of conversation.updated and conversation.read.
type ConversationEvent struct {
	ConversationID string
}

// ErrorEvent is the payload of every error.* notice.
type ErrorEvent struct {
	Err error
	// Frame holds the offending frame for protocol errors.
	Frame string
}
