package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sms.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sms.message", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "sms.message" {
			t.Errorf("got kind %q, want sms.message", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conversation.", 10)
	defer unsub()

	b.Publish(Event{Kind: "sms.message"})
	b.Publish(Event{Kind: "conversation.updated"})

	select {
	case evt := <-ch:
		if evt.Kind != "conversation.updated" {
			t.Errorf("got kind %q, want conversation.updated", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The sms event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("contact.", 1)
	defer unsub()

	before := time.Now()
	b.Emit("contact.starred", int64(7))

	evt := <-ch
	if evt.Timestamp.Before(before) {
		t.Errorf("timestamp %v predates Emit call", evt.Timestamp)
	}
	if id, ok := evt.Payload.(int64); !ok || id != 7 {
		t.Errorf("payload = %v, want int64(7)", evt.Payload)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sms.", 10)
	unsub()

	b.Publish(Event{Kind: "sms.message"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sms.", 1)
	defer unsub()

	b.Publish(Event{Kind: "sms.one"})
	// Buffer is full; this one is dropped rather than blocking the publisher.
	b.Publish(Event{Kind: "sms.two"})

	evt := <-ch
	if evt.Kind != "sms.one" {
		t.Errorf("got %q, want sms.one", evt.Kind)
	}
}
