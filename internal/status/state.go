// Package status tracks the view state of a synchronization session.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/huddle/internal/bus"
)

// State is the state of one session.
type State string

const (
	SignedOut State = "SIGNED_OUT"
	Idle      State = "IDLE"
	Open      State = "OPEN"
)

// KindStatusChanged is the bus kind published on every transition.
const KindStatusChanged = "session.status_changed"

// Signing out is allowed from anywhere; Open to Open is a conversation
// switch; Idle to Idle is a change of signed-in user.
var validTransitions = map[State][]State{
	SignedOut: {Idle, SignedOut},
	Idle:      {Idle, Open, SignedOut},
	Open:      {Open, Idle, SignedOut},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	key     string
	bus     *bus.Bus
}

// NewMachine creates a machine in SignedOut. Transitions are published on b
// under key, when b is not nil.
func NewMachine(b *bus.Bus, key string) *Machine {
	return &Machine{
		current: SignedOut,
		key:     key,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state, or fails if the move is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      KindStatusChanged,
			Key:       m.key,
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}

// StatusChange is the payload of status change events.
type StatusChange struct {
	From State
	To   State
}
