package sms

import "fmt"

// PayloadExtractor decodes broadcast payloads that already carry parsed
// fragments, as delivered by the HTTP gateway. Platform-specific extractors
// (with real permission semantics) implement the same interface.
type PayloadExtractor struct{}

// Extract returns the fragments carried in the payload.
func (PayloadExtractor) Extract(payload any) ([]Fragment, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []Fragment:
		return p, nil
	case Fragment:
		return []Fragment{p}, nil
	default:
		return nil, fmt.Errorf("sms: unsupported payload type %T", payload)
	}
}
