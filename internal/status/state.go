// Package status holds the connection state machine. It is the single source
// of truth for where a session is in its lifecycle.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State is a connection lifecycle state.
type State string

const (
	Disconnected   State = "DISCONNECTED"
	Connecting     State = "CONNECTING"
	Authenticating State = "AUTHENTICATING"
	Connected      State = "CONNECTED"
	Reconnecting   State = "RECONNECTING"
)

// EventStateChanged is published on every transition.
const EventStateChanged = "connection.state_changed"

// HealthService is the gRPC health service name that reports SERVING only
// while Connected.
const HealthService = "chatsync.Connection"

// validTransitions defines allowed state transitions. Any state may also
// fall back to Disconnected.
var validTransitions = map[State][]State{
	Disconnected:   {Connecting},
	Connecting:     {Authenticating, Reconnecting},
	Authenticating: {Connected, Reconnecting},
	Connected:      {Reconnecting},
	Reconnecting:   {Connecting},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// CanTransition reports whether to is reachable from the current state.
func (m *Machine) CanTransition(to State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return allowed(m.current, to)
}

func allowed(from, to State) bool {
	if to == Disconnected {
		return from != Disconnected
	}
	return slices.Contains(validTransitions[from], to)
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if !allowed(m.current, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      EventStateChanged,
			Timestamp: time.Now(),
			Payload: StateChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StateChange is the payload for state change events.
type StateChange struct {
	From State
	To   State
}
