package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/matheus3301/chatsync/internal/cache"
)

const conversationColumns = `id, type, name, participants, unread_count, updated_at, presence`

// UpsertConversation inserts or replaces a conversation row.
func (db *DB) UpsertConversation(c *cache.Conversation) error {
	return upsertConversation(db.DB, c)
}

func upsertConversation(x execer, c *cache.Conversation) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return err
	}
	if c.Participants == nil {
		participants = []byte("[]")
	}
	typ := string(c.Type)
	if typ == "" {
		typ = string(cache.Private)
	}
	_, err = x.Exec(`
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			participants = excluded.participants,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at,
			presence = excluded.presence`,
		c.ID, typ, c.Name, string(participants), c.UnreadCount, millis(c.UpdatedAt), encodePresence(c.Presence))
	return err
}

// ListConversations returns conversations, most recently updated first.
func (db *DB) ListConversations(limit, offset int) ([]cache.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations
		ORDER BY updated_at DESC, id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []cache.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns one conversation, or nil when it is not stored.
func (db *DB) GetConversation(id string) (*cache.Conversation, error) {
	c, err := scanConversation(db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanConversation(s scanner) (cache.Conversation, error) {
	var (
		c            cache.Conversation
		typ          string
		participants string
		updated      int64
		presence     string
	)
	if err := s.Scan(&c.ID, &typ, &c.Name, &participants, &c.UnreadCount, &updated, &presence); err != nil {
		return cache.Conversation{}, err
	}
	c.Type = cache.ConversationType(typ)
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return cache.Conversation{}, err
	}
	c.UpdatedAt = fromMillis(updated)
	c.Presence = decodePresence(presence)
	return c, nil
}
