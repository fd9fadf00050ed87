// Package protocol defines the wire events exchanged with the chat server and
// the codec that turns them into JSON frames and back.
//
// Every frame is one JSON object. The "type" field is the discriminant; the
// remaining fields belong to the variant.
package protocol

// Type identifies a wire event variant.
type Type string

const (
	TypeAuth               Type = "auth"
	TypeAuthSuccess        Type = "auth_success"
	TypeAuthFailure        Type = "auth_failure"
	TypeSendMessage        Type = "send_message"
	TypeMessageDelivered   Type = "message_delivered"
	TypeMessageReceived    Type = "message_received"
	TypeTypingIndicator    Type = "typing_indicator"
	TypeReadReceipt        Type = "read_receipt"
	TypeMessageReadStatus  Type = "message_read_status"
	TypePresenceUpdate     Type = "presence_update"
	TypeConversationUpdate Type = "conversation_update"
	TypePing               Type = "ping"
	TypePong               Type = "pong"
)

// Event is one decoded or to-be-encoded wire event.
type Event interface {
	Type() Type
	validate() error
}

// DeliveryStatus is the outcome carried by MessageDelivered.
type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailure DeliveryStatus = "failure"
)

// Presence is a user's online status as broadcast by the server.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceAway    Presence = "away"
	PresenceOffline Presence = "offline"
)

// Auth carries the bearer credential after the socket opens.
type Auth struct {
	Token string `json:"token"`
}

// AuthSuccess confirms the credential and names the local user.
type AuthSuccess struct {
	UserID string `json:"user_id"`
}

// AuthFailure rejects the credential.
type AuthFailure struct {
	Reason string `json:"reason"`
}

// SendMessage is an outbound user message awaiting MessageDelivered.
type SendMessage struct {
	CorrelationID  string `json:"correlation_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type,omitempty"`
}

// MessageDelivered acknowledges a SendMessage by correlation id.
type MessageDelivered struct {
	CorrelationID   string         `json:"correlation_id"`
	Status          DeliveryStatus `json:"status"`
	ServerMessageID string         `json:"server_message_id,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	Timestamp       int64          `json:"timestamp,omitempty"`
}

// MessageReceived delivers a server-confirmed message. Timestamp is unix milliseconds.
// CorrelationID is set when the server echoes one of our own sends.
type MessageReceived struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type,omitempty"`
	Timestamp      int64  `json:"timestamp"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// TypingIndicator reports typing activity. UserID is empty on outbound frames.
type TypingIndicator struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
	IsTyping       bool   `json:"is_typing"`
}

// ReadReceipt marks a conversation read up to MessageID.
type ReadReceipt struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserID         string `json:"user_id,omitempty"`
}

// MessageReadStatus tells the sender that ReaderID has read a message.
type MessageReadStatus struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	ReaderID       string `json:"reader_id"`
	ReadAt         int64  `json:"read_at,omitempty"`
}

// PresenceUpdate broadcasts a user's presence.
type PresenceUpdate struct {
	UserID   string   `json:"user_id"`
	Status   Presence `json:"status"`
	LastSeen int64    `json:"last_seen,omitempty"`
}

// ConversationUpdate carries conversation metadata changes. Nil Participants
// means the membership did not change.
type ConversationUpdate struct {
	ConversationID   string   `json:"conversation_id"`
	Name             string   `json:"name,omitempty"`
	ConversationType string   `json:"conversation_type,omitempty"`
	Participants     []string `json:"participants,omitempty"`
}

// Ping is a liveness check; the receiver answers with Pong.
type Ping struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Pong answers a Ping.
type Pong struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

func (*Auth) Type() Type               { return TypeAuth }
func (*AuthSuccess) Type() Type        { return TypeAuthSuccess }
func (*AuthFailure) Type() Type        { return TypeAuthFailure }
func (*SendMessage) Type() Type        { return TypeSendMessage }
func (*MessageDelivered) Type() Type   { return TypeMessageDelivered }
func (*MessageReceived) Type() Type    { return TypeMessageReceived }
func (*TypingIndicator) Type() Type    { return TypeTypingIndicator }
func (*ReadReceipt) Type() Type        { return TypeReadReceipt }
func (*MessageReadStatus) Type() Type  { return TypeMessageReadStatus }
func (*PresenceUpdate) Type() Type     { return TypePresenceUpdate }
func (*ConversationUpdate) Type() Type { return TypeConversationUpdate }
func (*Ping) Type() Type               { return TypePing }
func (*Pong) Type() Type               { return TypePong }

// NewAuth builds the post-open credential frame.
func NewAuth(token string) *Auth {
	return &Auth{Token: token}
}

// NewSendMessage builds an outbound text message.
func NewSendMessage(correlationID, conversationID, content string) *SendMessage {
	return &SendMessage{
		CorrelationID:  correlationID,
		ConversationID: conversationID,
		Content:        content,
		MessageType:    "text",
	}
}

// NewTyping builds an outbound typing indicator.
func NewTyping(conversationID string, isTyping bool) *TypingIndicator {
	return &TypingIndicator{ConversationID: conversationID, IsTyping: isTyping}
}

// NewReadReceipt builds an outbound read receipt.
func NewReadReceipt(conversationID, messageID string) *ReadReceipt {
	return &ReadReceipt{ConversationID: conversationID, MessageID: messageID}
}
