package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
)

// SearchResult holds a stored message matching a search.
type SearchResult struct {
	Message cache.Message
}

type scanner interface {
	Scan(dest ...any) error
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// readers flattens a read set into a JSON list.
func readers(set map[string]bool) string {
	list := make([]string, 0, len(set))
	for id, ok := range set {
		if ok {
			list = append(list, id)
		}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func readerSet(raw string) map[string]bool {
	var list []string
	_ = json.Unmarshal([]byte(raw), &list)
	set := make(map[string]bool, len(list))
	for _, id := range list {
		set[id] = true
	}
	return set
}

type presenceRow struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

func encodePresence(p map[string]cache.Presence) string {
	rows := make(map[string]presenceRow, len(p))
	for id, pr := range p {
		rows[id] = presenceRow{Status: pr.Status, LastSeen: millis(pr.LastSeen)}
	}
	b, _ := json.Marshal(rows)
	return string(b)
}

func decodePresence(raw string) map[string]cache.Presence {
	var rows map[string]presenceRow
	_ = json.Unmarshal([]byte(raw), &rows)
	out := make(map[string]cache.Presence, len(rows))
	for id, r := range rows {
		out[id] = cache.Presence{Status: r.Status, LastSeen: fromMillis(r.LastSeen)}
	}
	return out
}

func scanMessage(s scanner) (cache.Message, error) {
	var (
		m      cache.Message
		ts     int64
		readBy string
	)
	if err := s.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.Content, &m.Type, &ts, &readBy); err != nil {
		return cache.Message{}, err
	}
	m.Timestamp = fromMillis(ts)
	m.ReadBy = readerSet(readBy)
	return m, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
