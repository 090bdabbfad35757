package sms

// Action identifies the platform broadcast that carried a batch of message
// fragments. Deliver actions target the default messaging handler and are
// the only ones that may be suppressed; received actions are observer copies
// every registered app gets.
type Action string

const (
	ActionSmsDeliver  Action = "sms.deliver"
	ActionSmsReceived Action = "sms.received"
	ActionWapDeliver  Action = "wap.deliver"
	ActionWapReceived Action = "wap.received"
)

// DeliverTarget reports whether the action is a delivered-to-default-handler
// broadcast (as opposed to an observer copy).
func (a Action) DeliverTarget() bool {
	return a == ActionSmsDeliver || a == ActionWapDeliver
}

// Known reports whether the action is one this core handles.
func (a Action) Known() bool {
	switch a {
	case ActionSmsDeliver, ActionSmsReceived, ActionWapDeliver, ActionWapReceived:
		return true
	}
	return false
}

// UnknownAddress is substituted for fragments that arrive without an
// originating address.
const UnknownAddress = "Unknown"

// Fragment is one raw platform-delivered message part. Multi-part messages
// arrive as several fragments in a single broadcast.
type Fragment struct {
	Address   string `json:"address"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"` // unix ms; 0 = absent
}

// Classification records how a logical message reached us.
type Classification string

const (
	// DeliveredDefault means the message arrived on a deliver action while
	// this instance was the default handler.
	DeliveredDefault Classification = "delivered_default"
	// Observed means the message arrived as an observer copy.
	Observed Classification = "observed"
)

// LogicalMessage is one complete message reassembled from fragments sharing
// a sender address, with its resolved thread. Immutable after creation.
type LogicalMessage struct {
	Address        string
	Body           string
	Timestamp      int64
	ThreadID       int64
	Classification Classification
}
