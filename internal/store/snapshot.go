package store

import (
	"fmt"

	"github.com/matheus3301/chatsync/internal/cache"
)

// SaveSnapshot replaces the stored conversations and messages with snap in
// one transaction.
func (db *DB) SaveSnapshot(snap cache.Snapshot) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err = tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	for _, c := range snap.Conversations {
		if err = upsertConversation(tx, c); err != nil {
			return fmt.Errorf("save conversation %s: %w", c.ID, err)
		}
	}
	for _, list := range snap.Messages {
		for _, m := range list {
			if err = upsertMessage(tx, m); err != nil {
				return fmt.Errorf("save message %s: %w", m.ID, err)
			}
		}
	}
	return tx.Commit()
}

// LoadSnapshot reads every stored conversation and message. Messages are
// oldest first and each conversation's LastMessage is filled in by
// cache.Store.Restore.
func (db *DB) LoadSnapshot() (cache.Snapshot, error) {
	snap := cache.Snapshot{Messages: make(map[string][]*cache.Message)}

	rows, err := db.Query(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY id`)
	if err != nil {
		return cache.Snapshot{}, fmt.Errorf("load conversations: %w", err)
	}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			_ = rows.Close()
			return cache.Snapshot{}, err
		}
		snap.Conversations = append(snap.Conversations, &c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return cache.Snapshot{}, err
	}
	_ = rows.Close()

	rows, err = db.Query(`SELECT ` + messageColumns + ` FROM messages ORDER BY conversation_id, timestamp, id`)
	if err != nil {
		return cache.Snapshot{}, fmt.Errorf("load messages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return cache.Snapshot{}, err
		}
		snap.Messages[m.ConversationID] = append(snap.Messages[m.ConversationID], &m)
	}
	return snap, rows.Err()
}
