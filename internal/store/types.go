package store

// ConversationIDPrefix is the prefix of conversation identifiers minted for
// SMS threads: "sms_<thread_id>".
const ConversationIDPrefix = "sms_"

// Conversation is the persisted summary of one thread's latest state.
type Conversation struct {
	ID           string
	ThreadID     int64
	ContactID    int64 // 0 = not linked to a directory contact
	Address      string
	ExternalID   string
	DisplayName  string
	LastBody     string
	LastActivity int64
	UnreadCount  int
	IsGroup      bool
	Participants string // comma-separated addresses for group threads
	Blocked      bool
	Archived     bool
	Muted        bool
}

// Contact is a directory contact. The directory is owned by the platform;
// this store holds a synced, read-mostly copy (only the starred flag is
// written back through this core).
type Contact struct {
	ID          int64
	DisplayName string
	Phone       string   // primary number
	AltPhones   []string // secondary numbers
	Emails      string   // comma-separated
	Starred     bool
	PhotoRef    string
}

// Message is a persisted message row.
type Message struct {
	ID             int64
	ConversationID string
	ClientMsgID    string
	Address        string
	Body           string
	Direction      string // in, out
	Status         string // received, sending, sent, failed
	Timestamp      int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID            int64
	ClientMsgID   string
	Address       string
	Body          string
	Status        string // queued, sending, sent, failed
	ErrorMessage  string
	ProviderMsgID string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
