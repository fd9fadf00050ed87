package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// Envelope is one server-sent event on GET /v1/events.
type Envelope struct {
	EventID          string `json:"event_id"`
	Profile          string `json:"profile"`
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	Payload          any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Error string `json:"error"`
	Frame string `json:"frame,omitempty"`
}

type sendPayload struct {
	ConversationID  string `json:"conversation_id"`
	CorrelationID   string `json:"correlation_id"`
	ServerMessageID string `json:"server_message_id,omitempty"`
	Error           string `json:"error,omitempty"`
}

type statePayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type messagePayload struct {
	Message Message `json:"message"`
}

// eventPayload turns engine payloads into JSON-friendly values.
func eventPayload(p any) any {
	switch v := p.(type) {
	case intsync.ErrorEvent:
		return errorPayload{Error: errString(v.Err), Frame: v.Frame}
	case intsync.SendEvent:
		return sendPayload{
			ConversationID:  v.ConversationID,
			CorrelationID:   v.CorrelationID,
			ServerMessageID: v.ServerMessageID,
			Error:           errString(v.Err),
		}
	case intsync.MessageEvent:
		return messagePayload{Message: messageToJSON(v.Message)}
	case status.StateChange:
		return statePayload{From: string(v.From), To: string(v.To)}
	case intsync.PresenceEvent:
		return map[string]any{
			"user_id":       v.UserID,
			"status":        v.Presence.Status,
			"last_seen":     unixMillis(v.Presence.LastSeen),
			"conversations": v.Conversations,
		}
	case intsync.TypingEvent:
		return map[string]any{"conversation_id": v.ConversationID, "user_id": v.UserID, "is_typing": v.IsTyping}
	case intsync.ReadEvent:
		return map[string]any{"conversation_id": v.ConversationID, "message_id": v.MessageID, "reader_id": v.ReaderID}
	case intsync.ConversationEvent:
		return map[string]any{"conversation_id": v.ConversationID}
	default:
		return v
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// streamEvents relays bus events as server-sent events until the client
// goes away. ?namespace= filters by kind prefix.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no_stream", errors.New("streaming unsupported"))
		return
	}
	ch, unsub := h.Engine.Bus().Subscribe(r.URL.Query().Get("namespace"), 256)
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case evt := <-ch:
			if err := writeEvent(w, h.Profile, evt); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, profile string, evt bus.Event) error {
	env := Envelope{
		EventID:          uuid.NewString(),
		Profile:          profile,
		Kind:             evt.Kind,
		OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
		Payload:          eventPayload(evt.Payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.EventID, env.Kind, data)
	return err
}
