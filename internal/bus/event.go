package bus

import "time"

// Event is a domain event published on the bus. Kind is a dot-separated
// topic such as "sms.message" or "conversation.updated"; subscribers
// filter by topic prefix.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
