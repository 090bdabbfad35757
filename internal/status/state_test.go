package status

import (
	"testing"

	"github.com/metromessages/metromsg/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
	if m.IsDefault() {
		t.Error("IsDefault() = true at boot, want false")
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Observer},
		{Booting, Default},
		{Booting, Error},
		{Observer, Default},
		{Default, Observer},
		{Default, Degraded},
		{Degraded, Default},
		{Error, Booting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Degraded); err == nil {
		t.Error("Transition(BOOTING -> DEGRADED) should fail")
	}
	if m.Current() != Booting {
		t.Errorf("state after failed transition = %s, want BOOTING", m.Current())
	}
}

func TestIsDefaultTracksRole(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Default); err != nil {
		t.Fatal(err)
	}
	if !m.IsDefault() {
		t.Error("IsDefault() = false in DEFAULT state")
	}
	// Degraded keeps the role flag off: suppression requires DEFAULT.
	if err := m.Transition(Degraded); err != nil {
		t.Fatal(err)
	}
	if m.IsDefault() {
		t.Error("IsDefault() = true in DEGRADED state, want false")
	}
	if err := m.Transition(Observer); err != nil {
		t.Fatal(err)
	}
	if m.IsDefault() {
		t.Error("IsDefault() = true in OBSERVER state, want false")
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Observer); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "session.role_changed" {
		t.Errorf("event kind = %q, want session.role_changed", evt.Kind)
	}
	change, ok := evt.Payload.(RoleChange)
	if !ok {
		t.Fatalf("payload type = %T, want RoleChange", evt.Payload)
	}
	if change.From != Booting || change.To != Observer {
		t.Errorf("change = %+v, want BOOTING -> OBSERVER", change)
	}
}

// walkTo drives the machine into the given state via valid transitions.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	if m.Current() == target {
		return
	}
	var path []State
	switch target {
	case Observer:
		path = []State{Observer}
	case Default:
		path = []State{Default}
	case Degraded:
		path = []State{Observer, Degraded}
	case Error:
		path = []State{Error}
	}
	for _, s := range path {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo %s: %v", target, err)
		}
	}
}
