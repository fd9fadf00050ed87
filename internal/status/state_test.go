package status

import (
	"testing"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Authenticating},
		{Connecting, Reconnecting},
		{Connecting, Disconnected},
		{Authenticating, Connected},
		{Authenticating, Disconnected},
		{Authenticating, Reconnecting},
		{Connected, Reconnecting},
		{Connected, Disconnected},
		{Reconnecting, Connecting},
		{Reconnecting, Disconnected},
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

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connected},
		{Disconnected, Disconnected},
		{Disconnected, Authenticating},
		{Connecting, Connected},
		{Connected, Connecting},
		{Reconnecting, Connected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if m.CanTransition(tt.to) {
				t.Errorf("CanTransition(%s) = true", tt.to)
			}
			if err := m.Transition(tt.to); err == nil {
				t.Errorf("Transition(%s -> %s) should fail", tt.from, tt.to)
			}
			if m.Current() != tt.from {
				t.Errorf("state = %s, want %s (should not have changed)", m.Current(), tt.from)
			}
		})
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("connection.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != EventStateChanged {
		t.Errorf("event kind = %q, want %s", evt.Kind, EventStateChanged)
	}
	change, ok := evt.Payload.(StateChange)
	if !ok {
		t.Fatalf("payload type = %T, want StateChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

// TestAuthFailureDoesNotReconnect verifies that a rejected handshake lands
// in DISCONNECTED and can only leave it through a fresh CONNECTING.
func TestAuthFailureDoesNotReconnect(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Authenticating)

	if err := m.Transition(Disconnected); err != nil {
		t.Fatalf("AUTHENTICATING -> DISCONNECTED: %v", err)
	}
	if err := m.Transition(Reconnecting); err == nil {
		t.Fatal("Transition(DISCONNECTED -> RECONNECTING) should fail")
	}
	if err := m.Transition(Connecting); err != nil {
		t.Fatalf("DISCONNECTED -> CONNECTING: %v", err)
	}
}

// TestDropReconnectCycle verifies the reconnect loop:
// CONNECTED → RECONNECTING → CONNECTING → AUTHENTICATING → CONNECTED
func TestDropReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	steps := []State{Reconnecting, Connecting, Authenticating, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected:   {},
		Connecting:     {Connecting},
		Authenticating: {Connecting, Authenticating},
		Connected:      {Connecting, Authenticating, Connected},
		Reconnecting:   {Connecting, Authenticating, Connected, Reconnecting},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
