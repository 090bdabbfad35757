package store

import (
	"strings"
	"testing"
)

// The scan path must behave like the indexed one regardless of whether the
// binary carries fts5, so it is exercised directly.
func TestSearchScanFallback(t *testing.T) {
	db := testDB(t)

	msgs := []*Message{
		{ConversationID: "sms_1", ClientMsgID: "m1", Body: "hello world", Direction: "in", Status: "received", Timestamp: 1000},
		{ConversationID: "sms_1", ClientMsgID: "m2", Body: "goodbye world", Direction: "in", Status: "received", Timestamp: 2000},
		{ConversationID: "sms_2", ClientMsgID: "m3", Body: "hello again", Direction: "in", Status: "received", Timestamp: 3000},
	}
	for _, m := range msgs {
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.searchScan("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Ordered by timestamp descending.
	if results[0].Message.ClientMsgID != "m3" || results[1].Message.ClientMsgID != "m1" {
		t.Errorf("order = %q, %q, want m3, m1", results[0].Message.ClientMsgID, results[1].Message.ClientMsgID)
	}
	if !strings.Contains(results[0].Snippet, "<<hello>>") {
		t.Errorf("snippet = %q, want match wrapped in markers", results[0].Snippet)
	}

	// Conversation filter.
	results, err = db.searchScan("hello", "sms_1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.ClientMsgID != "m1" {
		t.Errorf("filtered results = %+v, want just m1", results)
	}
}

func TestSearchScanEscapesLikeWildcards(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ConversationID: "sms_1", ClientMsgID: "m1", Body: "save 100% today", Direction: "in", Status: "received", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "sms_1", ClientMsgID: "m2", Body: "save 100 dollars", Direction: "in", Status: "received", Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}

	// A literal % in the query must not act as a wildcard.
	results, err := db.searchScan("100%", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.ClientMsgID != "m1" {
		t.Errorf("results = %+v, want just m1", results)
	}
}

func TestScanSnippet(t *testing.T) {
	long := strings.Repeat("a ", 50) + "needle" + strings.Repeat(" b", 50)

	got := scanSnippet(long, "needle")
	if !strings.Contains(got, "<<needle>>") {
		t.Errorf("snippet = %q, want marked match", got)
	}
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet = %q, want ellipses on both sides", got)
	}
	if len(got) >= len(long) {
		t.Errorf("snippet length %d not shorter than body %d", len(got), len(long))
	}

	// Short body: returned whole, match still marked.
	if got := scanSnippet("hello world", "WORLD"); got != "hello <<world>>" {
		t.Errorf("snippet = %q, want %q", got, "hello <<world>>")
	}

	// No match: body passed through.
	if got := scanSnippet("hello", "zzz"); got != "hello" {
		t.Errorf("snippet = %q, want %q", got, "hello")
	}
}
