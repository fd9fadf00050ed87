package sync

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/activity"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/outbound"
)

// SendText shows text optimistically in the conversation and waits for the
// server to acknowledge it. On failure the optimistic message is removed and
// the error matches outbound.ErrDeliveryTimeout, outbound.ErrDeliveryFailed
// or outbound.ErrConnectionClosed. Cancelling ctx stops the wait but not the send.
func (e *Engine) SendText(ctx context.Context, conversationID, text string) (serverMessageID string, err error) {
	ctx, span := e.tracer.Start(ctx, "chatsync.SendText",
		trace.WithAttributes(attribute.String("chatsync.conversation_id", conversationID)))
	defer func() { endSpan(span, err) }()

	if conversationID == "" {
		return "", errors.New("conversation id is required")
	}
	res := make(chan outbound.Result, 1)
	if err := e.post(func() { e.sendText(conversationID, text, res) }); err != nil {
		return "", err
	}
	select {
	case r := <-res:
		span.SetAttributes(attribute.String("chatsync.correlation_id", r.CorrelationID))
		return r.ServerMessageID, r.Err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-e.loopDone:
		return "", ErrStopped
	}
}

func (e *Engine) sendText(convID, text string, res chan<- outbound.Result) {
	e.monitor.Pulse()
	e.localTypingStopped(convID)

	ps := e.outbox.SendText(convID, text, func(r outbound.Result) {
		e.settle(r)
		res <- r
	})
	e.sentAt[ps.CorrelationID] = ps.CreatedAt
	e.cache.InsertOptimistic(cache.Message{
		ID:             ps.CorrelationID,
		CorrelationID:  ps.CorrelationID,
		ConversationID: convID,
		SenderID:       e.LocalUserID(),
		Content:        text,
		Type:           "text",
		Timestamp:      ps.CreatedAt,
	})
	e.metrics.SetPending(e.outbox.Pending())

	optimistic, _ := e.cache.Message(convID, ps.CorrelationID)
	e.publish(EventMessagePending, MessageEvent{Message: optimistic})
}

// settle reconciles the optimistic message with the send's outcome.
func (e *Engine) settle(r outbound.Result) {
	created := e.sentAt[r.CorrelationID]
	delete(e.sentAt, r.CorrelationID)
	e.metrics.SetPending(e.outbox.Pending())

	if r.Err == nil {
		e.cache.ConfirmOptimistic(r.ConversationID, r.CorrelationID, r.ServerMessageID)
		e.metrics.SendSettled("delivered", e.clock.Now().Sub(created))
		e.publish(EventMessageSent, SendEvent{
			ConversationID:  r.ConversationID,
			CorrelationID:   r.CorrelationID,
			ServerMessageID: r.ServerMessageID,
		})
		return
	}

	e.cache.RemoveOptimistic(r.ConversationID, r.CorrelationID)
	outcome := "failed"
	switch {
	case errors.Is(r.Err, outbound.ErrDeliveryTimeout):
		outcome = "timeout"
	case errors.Is(r.Err, outbound.ErrConnectionClosed):
		outcome = "closed"
	}
	e.metrics.SendSettled(outcome, 0)
	e.logger.Warn("send failed",
		zap.String("conversation_id", r.ConversationID),
		zap.String("correlation_id", r.CorrelationID),
		zap.Error(r.Err))
	e.publish(EventMessageFailed, SendEvent{
		ConversationID: r.ConversationID,
		CorrelationID:  r.CorrelationID,
		Err:            r.Err,
	})
}

// SendTyping reports local typing activity. Repeated true calls within the
// typing timeout are coalesced; false is sent once the timeout lapses.
func (e *Engine) SendTyping(conversationID string, isTyping bool) error {
	return e.post(func() {
		if isTyping {
			e.monitor.Pulse()
			e.localTypingStarted(conversationID)
			return
		}
		e.localTypingStopped(conversationID)
	})
}

// SendReadReceipt acknowledges messageID. A message is acknowledged at most once.
func (e *Engine) SendReadReceipt(conversationID, messageID string) error {
	return e.post(func() { e.sendReceipt(conversationID, messageID) })
}

// MarkConversationRead resets the unread count and acknowledges the newest
// message from another participant.
func (e *Engine) MarkConversationRead(conversationID string) error {
	return e.post(func() { e.markConversationRead(conversationID) })
}

func (e *Engine) markConversationRead(convID string) {
	e.cache.ResetUnread(convID)
	e.receiptNewest(convID)
	e.publish(EventConversationRead, ConversationEvent{ConversationID: convID})
}

// SetActiveConversation tells the engine which conversation is on screen.
// An empty id means the conversation list is showing.
func (e *Engine) SetActiveConversation(conversationID string) error {
	return e.post(func() {
		prev := e.activeConv
		e.activeConv = conversationID
		if conversationID == "" {
			e.monitor.Focus(activity.ScreenList)
			return
		}
		e.monitor.Focus(activity.ScreenConversation)
		if prev != conversationID {
			e.markConversationRead(conversationID)
		}
	})
}

// SetForeground reports an app foreground/background transition.
func (e *Engine) SetForeground(foreground bool) error {
	return e.post(func() { e.monitor.SetForeground(foreground) })
}

// Pulse reports a user interaction.
func (e *Engine) Pulse() error {
	return e.post(e.monitor.Pulse)
}

// Focus reports that screen became active.
func (e *Engine) Focus(screen string) error {
	return e.post(func() { e.monitor.Focus(screen) })
}

// Blur reports that no screen is active.
func (e *Engine) Blur() error {
	return e.post(e.monitor.Blur)
}

// Messages returns the conversation's messages, oldest first.
func (e *Engine) Messages(conversationID string) []cache.Message {
	return e.cache.Messages(conversationID)
}

// Conversations returns all conversations, most recently active first.
func (e *Engine) Conversations() []cache.Conversation {
	return e.cache.Conversations()
}

// LastMessage returns the newest message of a conversation.
func (e *Engine) LastMessage(conversationID string) (cache.Message, bool) {
	return e.cache.LastMessage(conversationID)
}

// Conversation returns one conversation entry.
func (e *Engine) Conversation(conversationID string) (cache.Conversation, bool) {
	return e.cache.Conversation(conversationID)
}

// Typing returns the remote typing flag of a conversation.
func (e *Engine) Typing(conversationID string) cache.TypingState {
	return e.cache.Typing(conversationID)
}
