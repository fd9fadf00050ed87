package store

import (
	"database/sql"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
)

const messageColumns = `conversation_id, message_id, sender_id, content, message_type, timestamp, read_by`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertMessage inserts or updates a message (idempotent on conversation_id + message_id).
// Optimistic messages are never stored.
func (db *DB) UpsertMessage(m *cache.Message) error {
	return upsertMessage(db.DB, m)
}

func upsertMessage(x execer, m *cache.Message) error {
	if m.Optimistic {
		return nil
	}
	typ := m.Type
	if typ == "" {
		typ = "text"
	}
	_, err := x.Exec(`
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, message_id) DO UPDATE SET
			content = excluded.content,
			read_by = excluded.read_by`,
		m.ConversationID, m.ID, m.SenderID, m.Content, typ, millis(m.Timestamp), readers(m.ReadBy))
	return err
}

// ListMessages returns up to limit messages older than before, newest first.
// A zero before means no upper bound.
func (db *DB) ListMessages(conversationID string, before time.Time, limit int) ([]cache.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	beforeMs := int64(1<<63 - 1)
	if !before.IsZero() {
		beforeMs = before.UnixMilli()
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, conversationID, beforeMs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []cache.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SearchMessages finds messages whose content contains query, newest first.
// An empty conversationID searches every conversation.
func (db *DB) SearchMessages(query, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Message: m})
	}
	return results, rows.Err()
}
