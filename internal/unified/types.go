package unified

import "github.com/metromessages/metromsg/internal/store"

// UnifiedContact is the runtime merge of a directory contact with its
// best-matching conversation record, plus computed activity flags. At most
// one conversation is attached per contact (first-match-wins under the
// matcher's tier ordering). Derived in memory only; never persisted.
type UnifiedContact struct {
	Contact      store.Contact
	Conversation *store.Conversation // nil when no record matched
	HasThread    bool
	HasUnread    bool
	LastActivity int64
}
