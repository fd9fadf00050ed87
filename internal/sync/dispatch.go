package sync

import (
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/protocol"
	"github.com/matheus3301/chatsync/internal/status"
)

// onFrame decodes and applies one inbound frame. Frames are handled strictly
// in arrival order; a malformed frame is reported and skipped.
func (e *Engine) onFrame(frame []byte) {
	evt, err := protocol.Decode(frame)
	if err != nil {
		e.logger.Warn("discarding malformed frame", zap.Error(err))
		e.metrics.ProtocolError()
		e.publishError(EventProtocolError, err, string(frame))
		return
	}
	e.metrics.FrameReceived(string(evt.Type()))

	switch e.machine.Current() {
	case status.Authenticating:
		if e.handshake != nil && e.handshake.Handle(evt) {
			return
		}
		if ping, ok := evt.(*protocol.Ping); ok {
			e.answerPing(ping)
			return
		}
		e.logger.Debug("dropping frame before authentication", zap.String("type", string(evt.Type())))
	case status.Connected:
		e.apply(evt)
	}
}

func (e *Engine) apply(evt protocol.Event) {
	switch ev := evt.(type) {
	case *protocol.Ping:
		e.answerPing(ev)
	case *protocol.Pong:
	case *protocol.AuthSuccess, *protocol.AuthFailure:
		if e.handshake != nil {
			e.handshake.Handle(evt)
		}
	case *protocol.MessageDelivered:
		if !e.outbox.HandleDelivered(ev) {
			e.logger.Debug("acknowledgement for unknown send", zap.String("correlation_id", ev.CorrelationID))
		}
	case *protocol.MessageReceived:
		e.applyMessage(ev)
	case *protocol.TypingIndicator:
		e.applyTyping(ev)
	case *protocol.ReadReceipt:
		e.applyReadReceipt(ev)
	case *protocol.MessageReadStatus:
		e.applyReadStatus(ev.ConversationID, ev.MessageID, ev.ReaderID)
	case *protocol.PresenceUpdate:
		e.applyPresence(ev)
	case *protocol.ConversationUpdate:
		e.applyConversationUpdate(ev)
	default:
		e.logger.Debug("ignoring client-only event from server", zap.String("type", string(evt.Type())))
	}
}

func (e *Engine) answerPing(p *protocol.Ping) {
	if err := e.sendEvent(&protocol.Pong{Timestamp: p.Timestamp}); err != nil {
		e.logger.Debug("pong not sent", zap.Error(err))
	}
}

func (e *Engine) applyMessage(ev *protocol.MessageReceived) {
	ts := e.clock.Now()
	if ev.Timestamp > 0 {
		ts = time.UnixMilli(ev.Timestamp)
	}
	msg := cache.Message{
		ID:             ev.MessageID,
		ConversationID: ev.ConversationID,
		SenderID:       ev.SenderID,
		Content:        ev.Content,
		Type:           ev.MessageType,
		Timestamp:      ts,
	}
	if msg.Type == "" {
		msg.Type = "text"
	}

	// The server echoed one of our own sends before acknowledging it. The
	// echo settles the send; a later acknowledgement is ignored.
	if ev.CorrelationID != "" {
		e.cache.ConfirmOptimistic(ev.ConversationID, ev.CorrelationID, ev.MessageID)
		e.outbox.Resolve(ev.CorrelationID, ev.MessageID, ts)
	}
	isNew := e.cache.AppendMessage(msg)
	own := ev.SenderID == e.LocalUserID()

	if isNew && !own {
		if ev.ConversationID == e.activeConv {
			e.sendReceipt(ev.ConversationID, ev.MessageID)
		} else {
			e.cache.IncrementUnread(ev.ConversationID)
		}
	}
	if e.cache.ClearTyping(ev.ConversationID, ev.SenderID) {
		e.stopRemoteTypingTimer(ev.ConversationID)
		e.publish(EventTypingChanged, TypingEvent{ConversationID: ev.ConversationID, UserID: ev.SenderID})
	}

	stored, _ := e.cache.Message(ev.ConversationID, ev.MessageID)
	e.publish(EventMessageReceived, MessageEvent{Message: stored})
}

func (e *Engine) applyReadReceipt(ev *protocol.ReadReceipt) {
	if ev.UserID == "" || ev.UserID == e.LocalUserID() {
		// Read on another of our devices.
		e.cache.ResetUnread(ev.ConversationID)
		e.markReceipted(ev.ConversationID, ev.MessageID)
		e.publish(EventConversationRead, ConversationEvent{ConversationID: ev.ConversationID})
		return
	}
	e.applyReadStatus(ev.ConversationID, ev.MessageID, ev.UserID)
}

func (e *Engine) applyReadStatus(convID, msgID, reader string) {
	if !e.cache.MarkRead(convID, msgID, reader) {
		return
	}
	e.publish(EventMessageRead, ReadEvent{ConversationID: convID, MessageID: msgID, ReaderID: reader})
}

func (e *Engine) applyPresence(ev *protocol.PresenceUpdate) {
	p := cache.Presence{Status: string(ev.Status)}
	if ev.LastSeen > 0 {
		p.LastSeen = time.UnixMilli(ev.LastSeen)
	}
	convs := e.cache.SetPresence(ev.UserID, p)
	e.publish(EventPresenceUpdated, PresenceEvent{UserID: ev.UserID, Presence: p, Conversations: convs})
}

func (e *Engine) applyConversationUpdate(ev *protocol.ConversationUpdate) {
	e.cache.UpsertConversation(cache.Conversation{
		ID:           ev.ConversationID,
		Type:         cache.ConversationType(ev.ConversationType),
		Name:         ev.Name,
		Participants: ev.Participants,
		UpdatedAt:    e.clock.Now(),
	})
	e.publish(EventConversationUpdated, ConversationEvent{ConversationID: ev.ConversationID})
}

// sendReceipt emits at most one read receipt per message, and only while
// connected so a skipped one can still go out later.
func (e *Engine) sendReceipt(convID, msgID string) {
	if e.machine.Current() != status.Connected || e.receipted[convID][msgID] {
		return
	}
	e.outbox.SendReadReceipt(convID, msgID)
	e.markReceipted(convID, msgID)
}

func (e *Engine) markReceipted(convID, msgID string) {
	seen, ok := e.receipted[convID]
	if !ok {
		seen = make(map[string]bool)
		e.receipted[convID] = seen
	}
	seen[msgID] = true
}

// receiptNewest acknowledges the newest server message from someone else.
func (e *Engine) receiptNewest(convID string) {
	msgs := e.cache.Messages(convID)
	local := e.LocalUserID()
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Optimistic || m.SenderID == local {
			continue
		}
		e.sendReceipt(convID, m.ID)
		return
	}
}
