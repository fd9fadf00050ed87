package bus

import (
	"strings"
	"time"
)

// ErrorNamespace prefixes passively observed failure notices.
const ErrorNamespace = "error."

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// IsError reports whether the event is a failure notice rather than new data.
func (e Event) IsError() bool {
	return strings.HasPrefix(e.Kind, ErrorNamespace)
}
