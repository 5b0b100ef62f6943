package bus

import "time"

// Event represents a change published on the bus.
type Event struct {
	Kind      string
	// Key names the entity the event is about (conversation id, user id).
	Key       string
	Timestamp time.Time
	Payload   any
}
