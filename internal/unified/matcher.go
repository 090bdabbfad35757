package unified

import (
	"strconv"
	"strings"

	"github.com/metromessages/metromsg/internal/store"
)

// MatchConversation selects the single best-matching conversation record for
// a contact, or nil. Pure function over the two collections.
//
// Ordered heuristic, first non-empty match wins, no scoring: exact identity
// deliberately beats fuzzy name matching, and the ordering must hold even
// when a later tier would match a different record.
//
//  1. primary phone equals the record's address or external identity
//  2. the record's "sms_<n>" identifier embeds the contact's ID
//  3. display names match case-insensitively
//  4. any secondary phone equals the record's address or external identity
func MatchConversation(c store.Contact, records []store.Conversation) *store.Conversation {
	if c.Phone != "" {
		for i := range records {
			if phoneMatches(c.Phone, &records[i]) {
				return &records[i]
			}
		}
	}

	for i := range records {
		if embedded, ok := strings.CutPrefix(records[i].ID, store.ConversationIDPrefix); ok {
			if n, err := strconv.ParseInt(embedded, 10, 64); err == nil && n == c.ID {
				return &records[i]
			}
		}
	}

	if c.DisplayName != "" {
		for i := range records {
			if records[i].DisplayName != "" && strings.EqualFold(records[i].DisplayName, c.DisplayName) {
				return &records[i]
			}
		}
	}

	for _, phone := range c.AltPhones {
		if phone == "" {
			continue
		}
		for i := range records {
			if phoneMatches(phone, &records[i]) {
				return &records[i]
			}
		}
	}

	return nil
}

func phoneMatches(phone string, rec *store.Conversation) bool {
	return rec.Address == phone || (rec.ExternalID != "" && rec.ExternalID == phone)
}
