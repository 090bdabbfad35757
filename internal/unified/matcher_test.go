package unified

import (
	"testing"

	"github.com/metromessages/metromsg/internal/store"
)

func TestMatchPrimaryPhone(t *testing.T) {
	c := store.Contact{ID: 1, DisplayName: "Ana", Phone: "555-1234"}
	records := []store.Conversation{
		{ID: "sms_10", Address: "555-9999"},
		{ID: "sms_11", Address: "555-1234"},
	}
	got := MatchConversation(c, records)
	if got == nil || got.ID != "sms_11" {
		t.Fatalf("got %+v, want sms_11", got)
	}
}

func TestMatchPrimaryPhoneAgainstExternalID(t *testing.T) {
	c := store.Contact{ID: 1, Phone: "555-1234"}
	records := []store.Conversation{
		{ID: "sms_10", Address: "short-code", ExternalID: "555-1234"},
	}
	got := MatchConversation(c, records)
	if got == nil || got.ID != "sms_10" {
		t.Fatalf("got %+v, want sms_10", got)
	}
}

func TestMatchEmbeddedContactID(t *testing.T) {
	c := store.Contact{ID: 42, DisplayName: "Ana"}
	records := []store.Conversation{
		{ID: "sms_41", Address: "555-0001"},
		{ID: "sms_42", Address: "555-0002"},
	}
	got := MatchConversation(c, records)
	if got == nil || got.ID != "sms_42" {
		t.Fatalf("got %+v, want sms_42", got)
	}
}

func TestMatchNameCaseInsensitive(t *testing.T) {
	c := store.Contact{ID: 1, DisplayName: "Ana Silva"}
	records := []store.Conversation{
		{ID: "sms_10", DisplayName: "bob"},
		{ID: "sms_11", DisplayName: "ANA SILVA"},
	}
	got := MatchConversation(c, records)
	if got == nil || got.ID != "sms_11" {
		t.Fatalf("got %+v, want sms_11", got)
	}
}

func TestMatchSecondaryPhone(t *testing.T) {
	c := store.Contact{ID: 1, Phone: "555-0000", AltPhones: []string{"555-7777", "555-8888"}}
	records := []store.Conversation{
		{ID: "sms_10", Address: "555-8888"},
	}
	got := MatchConversation(c, records)
	if got == nil || got.ID != "sms_10" {
		t.Fatalf("got %+v, want sms_10", got)
	}
}

func TestMatchNoMatch(t *testing.T) {
	c := store.Contact{ID: 1, DisplayName: "Ana", Phone: "555-0000"}
	records := []store.Conversation{
		{ID: "sms_10", Address: "555-9999", DisplayName: "Bob"},
	}
	if got := MatchConversation(c, records); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

func TestMatchEmptyRecords(t *testing.T) {
	c := store.Contact{ID: 1, Phone: "555-0000"}
	if got := MatchConversation(c, nil); got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

// An earlier tier must win even when a later tier matches a different
// record, and the tiers run in a fixed order, not per-record.
func TestMatchTierOrderShadowsLaterTiers(t *testing.T) {
	c := store.Contact{ID: 7, DisplayName: "Ana", Phone: "555-1234"}
	records := []store.Conversation{
		// Would match tier 2 (embeds contact ID 7) but not tier 1.
		{ID: "sms_7", Address: "555-9999"},
		// Matches tier 1 on primary phone.
		{ID: "sms_8", Address: "555-1234"},
	}
	got := MatchConversation(c, records)
	if got == nil || got.ID != "sms_8" {
		t.Fatalf("got %+v, want sms_8 (phone tier shadows ID tier)", got)
	}
}

func TestMatchFirstWinsWithinTier(t *testing.T) {
	c := store.Contact{ID: 1, Phone: "555-1234"}
	records := []store.Conversation{
		{ID: "sms_10", Address: "555-1234"},
		{ID: "sms_11", Address: "555-1234"},
	}
	got := MatchConversation(c, records)
	if got == nil || got.ID != "sms_10" {
		t.Fatalf("got %+v, want first matching record sms_10", got)
	}
}

func TestMatchEmptyPhoneSkipsPhoneTiers(t *testing.T) {
	// Contact and record both have empty phone fields; that must not match.
	c := store.Contact{ID: 1, DisplayName: "Ana", AltPhones: []string{""}}
	records := []store.Conversation{
		{ID: "sms_10", Address: ""},
	}
	if got := MatchConversation(c, records); got != nil {
		t.Fatalf("got %+v, want nil (empty phones never match)", got)
	}
}
