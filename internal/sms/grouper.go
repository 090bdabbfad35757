package sms

import "time"

// Group reassembles a broadcast's fragments into one LogicalMessage per
// distinct sender address. Groups keep the address encounter order; bodies
// are concatenated in fragment list order with no separator. The timestamp
// is the group's first non-zero fragment timestamp, falling back to the
// current wall clock when every fragment lacks one.
//
// Pure data transformation: no fragment is dropped or duplicated.
func Group(fragments []Fragment) []LogicalMessage {
	var order []string
	byAddr := make(map[string]*LogicalMessage)

	for _, f := range fragments {
		addr := f.Address
		if addr == "" {
			addr = UnknownAddress
		}
		lm, ok := byAddr[addr]
		if !ok {
			lm = &LogicalMessage{Address: addr}
			byAddr[addr] = lm
			order = append(order, addr)
		}
		lm.Body += f.Body
		if lm.Timestamp == 0 {
			lm.Timestamp = f.Timestamp
		}
	}

	msgs := make([]LogicalMessage, 0, len(order))
	for _, addr := range order {
		lm := byAddr[addr]
		if lm.Timestamp == 0 {
			lm.Timestamp = time.Now().UnixMilli()
		}
		msgs = append(msgs, *lm)
	}
	return msgs
}
