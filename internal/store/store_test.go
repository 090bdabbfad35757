package store

import (
	"context"
	"path/filepath"
	"testing"
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

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestThreadGetOrCreate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id1, err := db.GetOrCreateThreadID(ctx, "555-1234")
	if err != nil {
		t.Fatal(err)
	}
	if id1 <= 0 {
		t.Fatalf("thread id = %d, want > 0", id1)
	}

	// Same address yields the same thread.
	id2, err := db.GetOrCreateThreadID(ctx, "555-1234")
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id1 {
		t.Errorf("second lookup = %d, want %d", id2, id1)
	}

	// Different address yields a different thread.
	id3, err := db.GetOrCreateThreadID(ctx, "555-9999")
	if err != nil {
		t.Fatal(err)
	}
	if id3 == id1 {
		t.Errorf("distinct addresses share thread id %d", id3)
	}
}

func TestConversationUpsertAndGet(t *testing.T) {
	db := testDB(t)

	c := &Conversation{ID: "sms_1", ThreadID: 1, Address: "555-1234", DisplayName: "Alice", LastBody: "hi", LastActivity: 1000}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	c.DisplayName = "Alice Updated"
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetConversation("sms_1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.DisplayName != "Alice Updated" {
		t.Errorf("got %+v, want DisplayName=Alice Updated", got)
	}
	if got.ContactID != 0 {
		t.Errorf("ContactID = %d, want 0 (unlinked)", got.ContactID)
	}

	missing, err := db.GetConversation("sms_404")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Error("expected nil for missing conversation")
	}
}

func TestTouchConversation(t *testing.T) {
	db := testDB(t)

	id, err := db.TouchConversation(5, "555-1234", "first", 1000, true)
	if err != nil {
		t.Fatal(err)
	}
	if id != "sms_5" {
		t.Errorf("conversation id = %q, want sms_5", id)
	}
	if _, err := db.TouchConversation(5, "555-1234", "second", 2000, true); err != nil {
		t.Fatal(err)
	}
	// Out-of-order delivery must not roll last_body/last_activity back.
	if _, err := db.TouchConversation(5, "555-1234", "stale", 1500, true); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("sms_5")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("conversation not created")
	}
	if c.LastBody != "second" || c.LastActivity != 2000 {
		t.Errorf("last = %q@%d, want second@2000", c.LastBody, c.LastActivity)
	}
	if c.UnreadCount != 3 {
		t.Errorf("unread = %d, want 3", c.UnreadCount)
	}

	if err := db.MarkConversationRead("sms_5"); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetConversation("sms_5")
	if c.UnreadCount != 0 {
		t.Errorf("unread after read = %d, want 0", c.UnreadCount)
	}
}

func TestTouchConversationMergesRecoveredThread(t *testing.T) {
	db := testDB(t)

	// Thread service outage: the address got a derived fallback thread ID.
	fallback := int64(4611686018427387904)
	id1, err := db.TouchConversation(fallback, "555-1234", "first", 1000, true)
	if err != nil {
		t.Fatal(err)
	}

	// Service recovered: the same address now resolves to its real thread.
	// Activity must merge into the existing conversation, not violate the
	// address uniqueness.
	id2, err := db.TouchConversation(1, "555-1234", "second", 2000, true)
	if err != nil {
		t.Fatalf("touch after thread recovery: %v", err)
	}
	if id2 != id1 {
		t.Errorf("conversation id = %q, want %q (same address, same conversation)", id2, id1)
	}

	count, err := db.ConversationCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("conversation count = %d, want 1", count)
	}

	c, err := db.GetConversation(id1)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("canonical conversation missing")
	}
	if c.LastBody != "second" || c.LastActivity != 2000 {
		t.Errorf("last = %q@%d, want second@2000", c.LastBody, c.LastActivity)
	}
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", c.UnreadCount)
	}
	if c.ThreadID != fallback {
		t.Errorf("thread id = %d, want original %d kept", c.ThreadID, fallback)
	}
}

func TestDeleteConversationForAddress(t *testing.T) {
	db := testDB(t)

	if _, err := db.TouchConversation(1, "555-1234", "hi", 1000, true); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "sms_1", ClientMsgID: "m1", Body: "hi", Direction: "in", Status: "received", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteConversationForAddress("555-1234"); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetConversation("sms_1")
	if c != nil {
		t.Error("conversation still present after delete")
	}
	msgs, _ := db.ListMessages("sms_1", 0, 10)
	if len(msgs) != 0 {
		t.Errorf("got %d messages after delete, want 0", len(msgs))
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ConversationID: "sms_1", ClientMsgID: "m1", Body: "hello", Direction: "in", Status: "received", Timestamp: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("sms_1", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ConversationID: "sms_1", ClientMsgID: "m1", Body: "hello world", Direction: "in", Status: "received", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "sms_1", ClientMsgID: "m2", Body: "goodbye world", Direction: "in", Status: "received", Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.ClientMsgID != "m1" {
		t.Errorf("client_msg_id = %q, want m1", results[0].Message.ClientMsgID)
	}
}

func TestContactUpsertWithPhones(t *testing.T) {
	db := testDB(t)

	c := &Contact{ID: 7, DisplayName: "Bob", Phone: "555-1234", AltPhones: []string{"555-0001", "555-0002"}}
	if err := db.UpsertContact(c); err != nil {
		t.Fatal(err)
	}

	// Replace secondary phones on re-upsert.
	c.AltPhones = []string{"555-0003"}
	if err := db.UpsertContact(c); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetContactByID(7)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("contact not found")
	}
	if len(got.AltPhones) != 1 || got.AltPhones[0] != "555-0003" {
		t.Errorf("alt phones = %v, want [555-0003]", got.AltPhones)
	}

	all, err := db.ReadAllContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || len(all[0].AltPhones) != 1 {
		t.Errorf("ReadAllContacts = %+v, want 1 contact with 1 alt phone", all)
	}
}

func TestUpdateStar(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{ID: 7, DisplayName: "Bob"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateStar(7, true); err != nil {
		t.Fatal(err)
	}

	c, _ := db.GetContactByID(7)
	if c == nil || !c.Starred {
		t.Error("contact not starred after UpdateStar")
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "555-1234", "test msg"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].ClientMsgID != "client1" {
		t.Errorf("client_msg_id = %q, want client1", pending[0].ClientMsgID)
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "provider1"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}

func TestConversationFlags(t *testing.T) {
	db := testDB(t)

	if _, err := db.TouchConversation(1, "555-1234", "hi", 1000, false); err != nil {
		t.Fatal(err)
	}

	if err := db.SetConversationBlocked("sms_1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetConversationArchived("sms_1", true); err != nil {
		t.Fatal(err)
	}
	if err := db.SetConversationMuted("sms_1", true); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("sms_1")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Blocked || !c.Archived || !c.Muted {
		t.Errorf("flags = blocked:%v archived:%v muted:%v, want all true", c.Blocked, c.Archived, c.Muted)
	}
}
