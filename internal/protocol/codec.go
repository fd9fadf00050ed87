package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ParseError reports an inbound frame that could not be turned into an Event.
type ParseError struct {
	Type   Type
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "parse frame"
	if e.Type != "" {
		msg += " " + string(e.Type)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var factories = map[Type]func() Event{
	TypeAuth:               func() Event { return &Auth{} },
	TypeAuthSuccess:        func() Event { return &AuthSuccess{} },
	TypeAuthFailure:        func() Event { return &AuthFailure{} },
	TypeSendMessage:        func() Event { return &SendMessage{} },
	TypeMessageDelivered:   func() Event { return &MessageDelivered{} },
	TypeMessageReceived:    func() Event { return &MessageReceived{} },
	TypeTypingIndicator:    func() Event { return &TypingIndicator{} },
	TypeReadReceipt:        func() Event { return &ReadReceipt{} },
	TypeMessageReadStatus:  func() Event { return &MessageReadStatus{} },
	TypePresenceUpdate:     func() Event { return &PresenceUpdate{} },
	TypeConversationUpdate: func() Event { return &ConversationUpdate{} },
	TypePing:               func() Event { return &Ping{} },
	TypePong:               func() Event { return &Pong{} },
}

// Encode serializes an event into a single JSON frame with the "type" tag first.
func Encode(evt Event) ([]byte, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.Type(), err)
	}
	tag, err := json.Marshal(evt.Type())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.Type(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(tag)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Decode parses one frame. Unknown tags and payloads that fail shape
// validation yield a *ParseError.
func Decode(frame []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, &ParseError{Reason: "malformed json", Err: err}
	}
	if head.Type == "" {
		return nil, &ParseError{Reason: "missing type"}
	}
	newEvent, ok := factories[head.Type]
	if !ok {
		return nil, &ParseError{Type: head.Type, Reason: "unknown type"}
	}

	evt := newEvent()
	if err := json.Unmarshal(frame, evt); err != nil {
		return nil, &ParseError{Type: head.Type, Reason: "invalid payload", Err: err}
	}
	if err := evt.validate(); err != nil {
		return nil, &ParseError{Type: head.Type, Reason: "invalid payload", Err: err}
	}
	return evt, nil
}

func require(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i+1] == "" {
			return fmt.Errorf("missing %s", fields[i])
		}
	}
	return nil
}

func (e *Auth) validate() error        { return require("token", e.Token) }
func (e *AuthSuccess) validate() error { return require("user_id", e.UserID) }
func (e *AuthFailure) validate() error { return nil }

func (e *SendMessage) validate() error {
	return require("correlation_id", e.CorrelationID, "conversation_id", e.ConversationID)
}

func (e *MessageDelivered) validate() error {
	if err := require("correlation_id", e.CorrelationID); err != nil {
		return err
	}
	switch e.Status {
	case DeliverySuccess:
		return require("server_message_id", e.ServerMessageID)
	case DeliveryFailure:
		return nil
	default:
		return fmt.Errorf("unknown delivery status %q", e.Status)
	}
}

func (e *MessageReceived) validate() error {
	return require("message_id", e.MessageID, "conversation_id", e.ConversationID, "sender_id", e.SenderID)
}

func (e *TypingIndicator) validate() error {
	return require("conversation_id", e.ConversationID)
}

func (e *ReadReceipt) validate() error {
	return require("conversation_id", e.ConversationID, "message_id", e.MessageID)
}

func (e *MessageReadStatus) validate() error {
	return require("conversation_id", e.ConversationID, "message_id", e.MessageID, "reader_id", e.ReaderID)
}

func (e *PresenceUpdate) validate() error {
	if err := require("user_id", e.UserID); err != nil {
		return err
	}
	switch e.Status {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return nil
	default:
		return errors.New("unknown presence status " + string(e.Status))
	}
}

func (e *ConversationUpdate) validate() error {
	return require("conversation_id", e.ConversationID)
}

func (e *Ping) validate() error { return nil }
func (e *Pong) validate() error { return nil }
