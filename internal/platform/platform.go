// Package platform holds the small adapter surface the engine needs from
// its host: a clock with cancellable timers and a persistent key/value store.
// Opening sockets is covered by transport.Dialer.
package platform

import "time"

// Timer is a pending callback created by Clock.AfterFunc.
type Timer interface {
	// Stop cancels the timer. It reports false if the timer already fired or was stopped.
	Stop() bool
}

// Clock abstracts wall time and timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// KeyValue is a persistent string store keyed by name.
// Get reports ok=false for a missing key.
type KeyValue interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// MemoryKV is an in-process KeyValue used when no persistent store is configured.
type MemoryKV struct {
	values map[string]string
}

// NewMemoryKV creates an empty in-memory key/value store. It is not safe for concurrent use.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKV) Set(key, value string) error {
	m.values[key] = value
	return nil
}
