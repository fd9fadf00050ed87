package cache

import (
	"sort"
	"sync"
	"time"
)

// Store holds conversations, their ordered message lists and typing flags.
// Safe for concurrent readers; the engine is the only writer.
type Store struct {
	mu       sync.RWMutex
	convs    map[string]*Conversation
	messages map[string][]*Message
	typing   map[string]TypingState
	presence map[string]Presence
}

// New creates an empty store.
func New() *Store {
	return &Store{
		convs:    make(map[string]*Conversation),
		messages: make(map[string][]*Message),
		typing:   make(map[string]TypingState),
		presence: make(map[string]Presence),
	}
}

func (s *Store) conv(id string) *Conversation {
	c, ok := s.convs[id]
	if !ok {
		c = &Conversation{ID: id, Presence: make(map[string]Presence)}
		s.convs[id] = c
	}
	return c
}

func indexOf(list []*Message, id string) int {
	for i, m := range list {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func indexOfCorrelation(list []*Message, corr string) int {
	if corr == "" {
		return -1
	}
	for i, m := range list {
		if m.Optimistic && m.CorrelationID == corr {
			return i
		}
	}
	return -1
}

// refreshLast points LastMessage at the newest entry of the list.
func (s *Store) refreshLast(convID string) {
	c := s.conv(convID)
	list := s.messages[convID]
	if len(list) == 0 {
		c.LastMessage = nil
		return
	}
	last := list[len(list)-1]
	c.LastMessage = last
	if last.Timestamp.After(c.UpdatedAt) {
		c.UpdatedAt = last.Timestamp
	}
}

// AppendMessage adds a server-confirmed message. A message whose id is
// already present is merged in place. It reports whether the message is new.
func (s *Store) AppendMessage(m Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Optimistic = false
	if m.ReadBy == nil {
		m.ReadBy = make(map[string]bool)
	}
	list := s.messages[m.ConversationID]
	if i := indexOf(list, m.ID); i >= 0 {
		existing := list[i]
		for r := range existing.ReadBy {
			m.ReadBy[r] = true
		}
		m.CorrelationID = existing.CorrelationID
		*existing = m
		s.refreshLast(m.ConversationID)
		return false
	}
	s.messages[m.ConversationID] = append(list, &m)
	s.refreshLast(m.ConversationID)
	return true
}

// InsertOptimistic appends a locally created message awaiting delivery.
func (s *Store) InsertOptimistic(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Optimistic = true
	if m.ID == "" {
		m.ID = m.CorrelationID
	}
	m.ReadBy = make(map[string]bool)
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], &m)
	s.refreshLast(m.ConversationID)
}

// ConfirmOptimistic swaps the optimistic entry for corr to its server id in
// place. If serverID is already in the list the optimistic entry is removed
// instead. It reports whether an optimistic entry was found.
func (s *Store) ConfirmOptimistic(convID, corr, serverID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[convID]
	i := indexOfCorrelation(list, corr)
	if i < 0 {
		return false
	}
	if serverID == "" || indexOf(list, serverID) >= 0 {
		s.messages[convID] = append(list[:i:i], list[i+1:]...)
	} else {
		list[i].ID = serverID
		list[i].Optimistic = false
	}
	s.refreshLast(convID)
	return true
}

// RemoveOptimistic drops the optimistic entry for corr.
func (s *Store) RemoveOptimistic(convID, corr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[convID]
	i := indexOfCorrelation(list, corr)
	if i < 0 {
		return false
	}
	s.messages[convID] = append(list[:i:i], list[i+1:]...)
	s.refreshLast(convID)
	return true
}

// PrependHistory inserts an older page ahead of the current list, skipping
// messages already present. page must be oldest first.
func (s *Store) PrependHistory(convID string, page []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[convID]
	seen := make(map[string]bool, len(list))
	for _, m := range list {
		seen[m.ID] = true
	}
	older := make([]*Message, 0, len(page))
	for _, m := range page {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m := m
		m.Optimistic = false
		if m.ReadBy == nil {
			m.ReadBy = make(map[string]bool)
		}
		older = append(older, &m)
	}
	s.messages[convID] = append(older, list...)
	s.refreshLast(convID)
	return len(older)
}

// MarkRead adds reader to a message's read set.
func (s *Store) MarkRead(convID, msgID, reader string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[convID]
	i := indexOf(list, msgID)
	if i < 0 || list[i].ReadBy[reader] {
		return false
	}
	list[i].ReadBy[reader] = true
	return true
}

// IncrementUnread bumps the unread counter by one and returns the new value.
func (s *Store) IncrementUnread(convID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conv(convID)
	c.UnreadCount++
	return c.UnreadCount
}

// DecrementUnread lowers the unread counter by one, never below zero.
func (s *Store) DecrementUnread(convID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conv(convID)
	if c.UnreadCount > 0 {
		c.UnreadCount--
	}
	return c.UnreadCount
}

// ResetUnread sets the unread counter to zero.
func (s *Store) ResetUnread(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conv(convID).UnreadCount = 0
}

// UpsertConversation merges metadata into the entry. Empty fields and nil
// participants leave the current values alone; counters and the last
// message are owned by the store.
func (s *Store) UpsertConversation(in Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.conv(in.ID)
	if in.Type != "" {
		c.Type = in.Type
	}
	if in.Name != "" {
		c.Name = in.Name
	}
	if in.Participants != nil {
		c.Participants = append([]string(nil), in.Participants...)
	}
	if in.UpdatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = in.UpdatedAt
	}
	if in.UnreadCount > c.UnreadCount {
		c.UnreadCount = in.UnreadCount
	}
	if c.LastMessage == nil && in.LastMessage != nil {
		c.LastMessage = in.LastMessage.clone()
	}
	for _, p := range c.Participants {
		if pr, ok := s.presence[p]; ok {
			c.Presence[p] = pr
		}
	}
}

// SetPresence records a user's presence on every conversation they take part in.
// It returns the ids of the conversations that changed.
func (s *Store) SetPresence(userID string, p Presence) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presence[userID] = p
	var changed []string
	for id, c := range s.convs {
		for _, member := range c.Participants {
			if member == userID {
				c.Presence[userID] = p
				changed = append(changed, id)
				break
			}
		}
	}
	sort.Strings(changed)
	return changed
}

// UserPresence returns the last known presence of userID.
func (s *Store) UserPresence(userID string) (Presence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[userID]
	return p, ok
}

// SetTyping stores the remote typing flag for a conversation.
func (s *Store) SetTyping(convID string, st TypingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !st.IsTyping {
		delete(s.typing, convID)
		return
	}
	s.typing[convID] = st
}

// ClearTyping removes the flag if userID set it, or unconditionally when
// userID is empty. It reports whether a flag was cleared.
func (s *Store) ClearTyping(convID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.typing[convID]
	if !ok || (userID != "" && st.UserID != userID) {
		return false
	}
	delete(s.typing, convID)
	return true
}

// Messages returns a copy of the conversation's message list, oldest first.
func (s *Store) Messages(convID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[convID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = *m.clone()
	}
	return out
}

// Message looks up one message by id.
func (s *Store) Message(convID, msgID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[convID]
	if i := indexOf(list, msgID); i >= 0 {
		return *list[i].clone(), true
	}
	return Message{}, false
}

// OldestServerMessage returns the oldest server-confirmed message of a conversation.
func (s *Store) OldestServerMessage(convID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[convID] {
		if !m.Optimistic {
			return *m.clone(), true
		}
	}
	return Message{}, false
}

// LastMessage returns the newest message of a conversation.
func (s *Store) LastMessage(convID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convID]
	if !ok || c.LastMessage == nil {
		return Message{}, false
	}
	return *c.LastMessage.clone(), true
}

// Conversation returns a copy of one conversation entry.
func (s *Store) Conversation(convID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convID]
	if !ok {
		return Conversation{}, false
	}
	return *c.clone(), true
}

// Conversations returns every conversation, most recently active first.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, *c.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := activity(&out[i]), activity(&out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func activity(c *Conversation) time.Time {
	if c.LastMessage != nil && c.LastMessage.Timestamp.After(c.UpdatedAt) {
		return c.LastMessage.Timestamp
	}
	return c.UpdatedAt
}

// Typing returns the typing flag of a conversation.
func (s *Store) Typing(convID string) TypingState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing[convID]
}

// Snapshot copies the server-confirmed state. Optimistic messages are left out.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Messages: make(map[string][]*Message, len(s.messages))}
	for _, c := range s.convs {
		cc := c.clone()
		if cc.LastMessage != nil && cc.LastMessage.Optimistic {
			cc.LastMessage = nil
		}
		snap.Conversations = append(snap.Conversations, cc)
	}
	sort.Slice(snap.Conversations, func(i, j int) bool { return snap.Conversations[i].ID < snap.Conversations[j].ID })
	for id, list := range s.messages {
		for _, m := range list {
			if !m.Optimistic {
				snap.Messages[id] = append(snap.Messages[id], m.clone())
			}
		}
	}
	return snap
}

// Restore replaces the store contents with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = make(map[string]*Conversation, len(snap.Conversations))
	s.messages = make(map[string][]*Message, len(snap.Messages))
	s.typing = make(map[string]TypingState)
	for _, c := range snap.Conversations {
		cc := c.clone()
		s.convs[cc.ID] = cc
	}
	for id, list := range snap.Messages {
		for _, m := range list {
			mm := m.clone()
			if mm.ReadBy == nil {
				mm.ReadBy = make(map[string]bool)
			}
			s.messages[id] = append(s.messages[id], mm)
		}
		s.refreshLast(id)
	}
}
