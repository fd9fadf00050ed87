package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/cache"
)

// DefaultPageSize is used by LoadOlderMessages when limit is not positive.
const DefaultPageSize = 50

// LoadConversations merges the server's conversation list into the cache.
func (e *Engine) LoadConversations(ctx context.Context) error {
	if e.history == nil {
		return ErrNoHistory
	}
	convs, err := e.history.FetchConversations(ctx)
	if err != nil {
		return fmt.Errorf("fetch conversations: %w", err)
	}
	return e.call(func() {
		for _, c := range convs {
			e.cache.UpsertConversation(c)
			e.publish(EventConversationUpdated, ConversationEvent{ConversationID: c.ID})
		}
		e.logger.Info("conversations loaded", zap.Int("count", len(convs)))
	})
}

// LoadOlderMessages fetches the page before the oldest cached server message
// and prepends it. It reports whether the server has more.
func (e *Engine) LoadOlderMessages(ctx context.Context, conversationID string, limit int) (hasMore bool, err error) {
	if e.history == nil {
		return false, ErrNoHistory
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	before := ""
	if oldest, ok := e.cache.OldestServerMessage(conversationID); ok {
		before = oldest.ID
	}
	page, err := e.history.FetchMessages(ctx, conversationID, limit, before)
	if err != nil {
		return false, fmt.Errorf("fetch messages: %w", err)
	}
	err = e.call(func() {
		added := e.cache.PrependHistory(conversationID, page.Messages)
		if added > 0 {
			e.publish(EventConversationUpdated, ConversationEvent{ConversationID: conversationID})
		}
		e.logger.Debug("history page loaded",
			zap.String("conversation_id", conversationID),
			zap.Int("added", added),
			zap.Bool("has_more", page.HasMore))
	})
	return page.HasMore, err
}

// OpenPrivateConversation creates (or finds) the one-to-one conversation with userID.
func (e *Engine) OpenPrivateConversation(ctx context.Context, userID string) (cache.Conversation, error) {
	if e.history == nil {
		return cache.Conversation{}, ErrNoHistory
	}
	conv, err := e.history.CreatePrivateConversation(ctx, userID)
	if err != nil {
		return cache.Conversation{}, fmt.Errorf("create private conversation: %w", err)
	}
	if conv.Type == "" {
		conv.Type = cache.Private
	}
	if err := e.call(func() {
		e.cache.UpsertConversation(conv)
		e.publish(EventConversationUpdated, ConversationEvent{ConversationID: conv.ID})
	}); err != nil {
		return cache.Conversation{}, err
	}
	stored, _ := e.cache.Conversation(conv.ID)
	return stored, nil
}

// Restore replaces the cache with a saved snapshot. Use before Connect.
func (e *Engine) Restore(snap cache.Snapshot) error {
	return e.call(func() { e.cache.Restore(snap) })
}

// Snapshot copies the server-confirmed cache contents.
func (e *Engine) Snapshot() cache.Snapshot {
	return e.cache.Snapshot()
}
