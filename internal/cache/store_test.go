package cache

import (
	"testing"
	"time"
)

func at(sec int64) time.Time { return time.Unix(sec, 0) }

func TestAppendMergesByID(t *testing.T) {
	s := New()
	if !s.AppendMessage(Message{ID: "m1", ConversationID: "C1", Content: "hi", Timestamp: at(1)}) {
		t.Fatal("first append reported duplicate")
	}
	s.MarkRead("C1", "m1", "bob")
	if s.AppendMessage(Message{ID: "m1", ConversationID: "C1", Content: "hi (edited)", Timestamp: at(1)}) {
		t.Fatal("second append reported new")
	}

	msgs := s.Messages("C1")
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "hi (edited)" || !msgs[0].ReadBy["bob"] {
		t.Errorf("merged = %+v", msgs[0])
	}
}

func TestOptimisticConfirmInPlace(t *testing.T) {
	s := New()
	s.AppendMessage(Message{ID: "m0", ConversationID: "C1", Timestamp: at(1)})
	s.InsertOptimistic(Message{CorrelationID: "X", ConversationID: "C1", Content: "hi", Timestamp: at(2)})
	s.AppendMessage(Message{ID: "m9", ConversationID: "C1", Timestamp: at(3)})

	if !s.ConfirmOptimistic("C1", "X", "m1") {
		t.Fatal("ConfirmOptimistic() = false")
	}
	msgs := s.Messages("C1")
	ids := []string{msgs[0].ID, msgs[1].ID, msgs[2].ID}
	if ids[0] != "m0" || ids[1] != "m1" || ids[2] != "m9" {
		t.Errorf("ids = %v, want [m0 m1 m9]", ids)
	}
	if msgs[1].Optimistic || msgs[1].Content != "hi" {
		t.Errorf("confirmed = %+v", msgs[1])
	}
}

func TestConfirmAfterEchoRemovesDuplicate(t *testing.T) {
	s := New()
	s.InsertOptimistic(Message{CorrelationID: "X", ConversationID: "C1", Content: "hi", Timestamp: at(1)})
	s.AppendMessage(Message{ID: "m1", ConversationID: "C1", Content: "hi", Timestamp: at(2)})

	s.ConfirmOptimistic("C1", "X", "m1")
	msgs := s.Messages("C1")
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("messages = %+v, want only m1", msgs)
	}
}

func TestRemoveOptimisticRestoresLastMessage(t *testing.T) {
	s := New()
	s.AppendMessage(Message{ID: "m1", ConversationID: "C1", Content: "old", Timestamp: at(1)})
	s.InsertOptimistic(Message{CorrelationID: "X", ConversationID: "C1", Content: "new", Timestamp: at(2)})
	if last, _ := s.LastMessage("C1"); last.Content != "new" {
		t.Fatalf("LastMessage = %q, want new", last.Content)
	}

	s.RemoveOptimistic("C1", "X")
	if last, _ := s.LastMessage("C1"); last.ID != "m1" {
		t.Errorf("LastMessage = %q, want m1", last.ID)
	}
	if s.RemoveOptimistic("C1", "X") {
		t.Error("second RemoveOptimistic() = true")
	}
}

func TestUnreadNeverNegative(t *testing.T) {
	s := New()
	s.IncrementUnread("C1")
	s.IncrementUnread("C1")
	if c, _ := s.Conversation("C1"); c.UnreadCount != 2 {
		t.Fatalf("UnreadCount = %d, want 2", c.UnreadCount)
	}
	s.ResetUnread("C1")
	if n := s.DecrementUnread("C1"); n != 0 {
		t.Errorf("DecrementUnread() = %d, want 0", n)
	}
}

func TestPrependHistoryDedupes(t *testing.T) {
	s := New()
	s.AppendMessage(Message{ID: "m3", ConversationID: "C1", Timestamp: at(3)})
	added := s.PrependHistory("C1", []Message{
		{ID: "m1", ConversationID: "C1", Timestamp: at(1)},
		{ID: "m2", ConversationID: "C1", Timestamp: at(2)},
		{ID: "m3", ConversationID: "C1", Timestamp: at(3)},
	})
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}
	msgs := s.Messages("C1")
	if len(msgs) != 3 || msgs[0].ID != "m1" || msgs[2].ID != "m3" {
		t.Errorf("messages = %+v", msgs)
	}
	if oldest, _ := s.OldestServerMessage("C1"); oldest.ID != "m1" {
		t.Errorf("oldest = %q", oldest.ID)
	}
}

func TestConversationsSortedByActivity(t *testing.T) {
	s := New()
	s.UpsertConversation(Conversation{ID: "A", Name: "alpha", UpdatedAt: at(5)})
	s.UpsertConversation(Conversation{ID: "B", Name: "beta", UpdatedAt: at(1)})
	s.AppendMessage(Message{ID: "m1", ConversationID: "B", Timestamp: at(10)})

	convs := s.Conversations()
	if len(convs) != 2 || convs[0].ID != "B" || convs[1].ID != "A" {
		t.Errorf("order = %v", []string{convs[0].ID, convs[1].ID})
	}
}

func TestUpsertConversationMerges(t *testing.T) {
	s := New()
	s.UpsertConversation(Conversation{ID: "G", Type: Group, Name: "team", Participants: []string{"a", "b"}})
	s.UpsertConversation(Conversation{ID: "G", Name: "team v2"})

	c, _ := s.Conversation("G")
	if c.Name != "team v2" || c.Type != Group || len(c.Participants) != 2 {
		t.Errorf("conversation = %+v", c)
	}
}

func TestPresenceAndTyping(t *testing.T) {
	s := New()
	s.UpsertConversation(Conversation{ID: "C1", Participants: []string{"me", "bob"}})
	changed := s.SetPresence("bob", Presence{Status: "online"})
	if len(changed) != 1 || changed[0] != "C1" {
		t.Fatalf("changed = %v", changed)
	}
	if c, _ := s.Conversation("C1"); c.Presence["bob"].Status != "online" {
		t.Errorf("presence = %+v", c.Presence)
	}

	s.SetTyping("C1", TypingState{IsTyping: true, UserID: "bob", Since: at(1)})
	if s.ClearTyping("C1", "carol") {
		t.Error("ClearTyping() by another user cleared the flag")
	}
	if !s.Typing("C1").IsTyping {
		t.Fatal("typing flag missing")
	}
	s.ClearTyping("C1", "bob")
	if s.Typing("C1").IsTyping {
		t.Error("typing flag still set")
	}
}

func TestReadsAreCopies(t *testing.T) {
	s := New()
	s.AppendMessage(Message{ID: "m1", ConversationID: "C1"})
	msgs := s.Messages("C1")
	msgs[0].ReadBy["mallory"] = true
	msgs[0].ID = "changed"

	again := s.Messages("C1")
	if again[0].ID != "m1" || again[0].ReadBy["mallory"] {
		t.Errorf("store mutated through read copy: %+v", again[0])
	}
}

func TestSnapshotSkipsOptimistic(t *testing.T) {
	s := New()
	s.UpsertConversation(Conversation{ID: "C1", Name: "c"})
	s.AppendMessage(Message{ID: "m1", ConversationID: "C1", Timestamp: at(1)})
	s.InsertOptimistic(Message{CorrelationID: "X", ConversationID: "C1", Timestamp: at(2)})

	snap := s.Snapshot()
	if len(snap.Messages["C1"]) != 1 {
		t.Fatalf("snapshot messages = %d, want 1", len(snap.Messages["C1"]))
	}

	r := New()
	r.Restore(snap)
	if last, ok := r.LastMessage("C1"); !ok || last.ID != "m1" {
		t.Errorf("restored LastMessage = %+v", last)
	}
	if c, _ := r.Conversation("C1"); c.Name != "c" {
		t.Errorf("restored name = %q", c.Name)
	}
}
