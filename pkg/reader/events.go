package reader

import (
	"time"

	"orienteer/punchcard-go/pkg/card"
)

// EventType classifies reader events
type EventType int

const (
	// EventCardRead carries a decoded card.
	EventCardRead EventType = iota

	// EventCardRemoved is reserved: current reader firmware does not report
	// removals, but observers written against this contract need no change
	// when one does.
	EventCardRemoved

	// EventReaderError is a payload decode or processing error. The session
	// keeps running; the event is informational.
	EventReaderError

	// EventConnectionLost is an I/O failure on the read loop, distinct from
	// an explicit Disconnect. The session is torn down when it fires.
	EventConnectionLost
)

// String returns string representation of EventType
func (t EventType) String() string {
	switch t {
	case EventCardRead:
		return "card_read"
	case EventCardRemoved:
		return "card_removed"
	case EventReaderError:
		return "reader_error"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// CardRead is the canonical output unit: one card presented at the reader.
// Immutable once constructed.
type CardRead struct {
	CardNumber uint32             `json:"cardNumber"`
	Generation card.Generation    `json:"generation"`
	ReadAt     time.Time          `json:"readAt"`
	Battery    card.BatteryStatus `json:"battery,omitempty"`
	ErrorCode  byte               `json:"errorCode,omitempty"`
}

// Event is what observers receive. Card is set for EventCardRead, Err for
// EventReaderError and EventConnectionLost.
type Event struct {
	Type EventType
	Card *CardRead
	Err  error
}
