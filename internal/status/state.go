package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/metromessages/metromsg/internal/bus"
)

// State represents a daemon runtime state. Observer and Default correspond
// to the handler role the platform grants: an observer sees broadcasts but
// never claims them, the default handler owns delivery.
type State string

const (
	Booting  State = "BOOTING"
	Observer State = "OBSERVER"
	Default  State = "DEFAULT"
	Degraded State = "DEGRADED"
	Error    State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:  {Observer, Default, Error},
	Observer: {Default, Degraded, Error},
	Default:  {Observer, Degraded, Error},
	Degraded: {Observer, Default, Error},
	Error:    {Booting},
}

// Machine tracks and enforces daemon runtime state transitions. It also
// answers the role question for the inbound classifier.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsDefault reports whether the daemon currently holds the default handler
// role. Only the DEFAULT state grants suppression; a degraded daemon stops
// claiming broadcasts until it recovers.
func (m *Machine) IsDefault() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == Default
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.role_changed",
			Timestamp: time.Now(),
			Payload: RoleChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// RoleChange is the payload for role change events.
type RoleChange struct {
	From State
	To   State
}
