package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/cache"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + presence)", result.Version)
	}
	if result.Dirty {
		t.Error("schema left dirty")
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)

	c := &cache.Conversation{
		ID:           "C1",
		Type:         cache.Group,
		Name:         "team",
		Participants: []string{"me", "bob"},
		UnreadCount:  2,
		UpdatedAt:    time.UnixMilli(1000),
		Presence:     map[string]cache.Presence{"bob": {Status: "online", LastSeen: time.UnixMilli(900)}},
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	c.Name = "team renamed"
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(&cache.Conversation{ID: "C2", UpdatedAt: time.UnixMilli(2000)}); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != "C2" {
		t.Errorf("first = %s, want most recently updated C2", convs[0].ID)
	}
	if convs[1].Type != cache.Group || convs[1].Name != "team renamed" || len(convs[1].Participants) != 2 {
		t.Errorf("C1 = %+v", convs[1])
	}
	if convs[1].Presence["bob"].Status != "online" {
		t.Errorf("presence = %+v", convs[1].Presence)
	}
	if convs[0].Type != cache.Private {
		t.Errorf("default type = %q, want private", convs[0].Type)
	}
}

func TestGetConversation(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&cache.Conversation{ID: "C1", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation("C1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "A" {
		t.Errorf("got %v, want A", c)
	}

	c, err = db.GetConversation("missing")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing conversation")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &cache.Message{ID: "m1", ConversationID: "C1", SenderID: "bob", Content: "hello", Timestamp: time.UnixMilli(1000)}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Content = "hello updated"
	msg.ReadBy = map[string]bool{"me": true}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&cache.Message{ID: "tmp", ConversationID: "C1", Optimistic: true}); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("C1", time.Time{}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Content != "hello updated" || !msgs[0].ReadBy["me"] || msgs[0].Type != "text" {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestListMessagesPaginates(t *testing.T) {
	db := testDB(t)
	for i, id := range []string{"m1", "m2", "m3"} {
		m := &cache.Message{ID: id, ConversationID: "C1", Timestamp: time.UnixMilli(int64(i+1) * 1000)}
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages("C1", time.UnixMilli(3000), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "m2" || page[1].ID != "m1" {
		t.Errorf("page = %+v, want [m2 m1]", page)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	for _, m := range []*cache.Message{
		{ID: "m1", ConversationID: "C1", Content: "hello world", Timestamp: time.UnixMilli(1000)},
		{ID: "m2", ConversationID: "C1", Content: "goodbye world", Timestamp: time.UnixMilli(2000)},
		{ID: "m3", ConversationID: "C2", Content: "100% hello", Timestamp: time.UnixMilli(3000)},
	} {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages("hello", "C1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.ID != "m1" {
		t.Fatalf("results = %+v, want m1", results)
	}

	results, err = db.SearchMessages("0%", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.ID != "m3" {
		t.Errorf("literal %% search = %+v, want m3", results)
	}
}

func TestKeyValue(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.Get("user_id"); err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := db.Set("user_id", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := db.Set("user_id", "u2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Get("user_id")
	if err != nil || !ok || v != "u2" {
		t.Errorf("Get() = %q, %v, %v; want u2", v, ok, err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := testDB(t)

	store := cache.New()
	store.UpsertConversation(cache.Conversation{ID: "C1", Name: "team", Type: cache.Group, Participants: []string{"me", "bob"}})
	store.AppendMessage(cache.Message{ID: "m1", ConversationID: "C1", SenderID: "bob", Content: "one", Timestamp: time.UnixMilli(1000)})
	store.AppendMessage(cache.Message{ID: "m2", ConversationID: "C1", SenderID: "me", Content: "two", Timestamp: time.UnixMilli(2000)})
	store.InsertOptimistic(cache.Message{ID: "corr", CorrelationID: "corr", ConversationID: "C1", Content: "pending", Timestamp: time.UnixMilli(3000)})

	if err := db.SaveSnapshot(store.Snapshot()); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}
	// Saving again replaces rather than appends.
	if err := db.SaveSnapshot(store.Snapshot()); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	snap, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	restored := cache.New()
	restored.Restore(snap)

	msgs := restored.Messages("C1")
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages = %+v, want [m1 m2] without optimistic", msgs)
	}
	c, ok := restored.Conversation("C1")
	if !ok || c.Name != "team" || c.LastMessage == nil || c.LastMessage.ID != "m2" {
		t.Errorf("conversation = %+v", c)
	}
}
