package reader

import (
	"errors"
	"fmt"

	"orienteer/punchcard-go/pkg/channel"
)

// ConnectFailure classifies why Connect failed. Event-day operators face a
// pile of non-obvious hardware failure modes; the classification drives the
// guidance text shown to them.
type ConnectFailure int

const (
	// FailureOpen: a device was found but opening it failed (permissions,
	// port busy, unplugged mid-open).
	FailureOpen ConnectFailure = iota

	// FailureNoDevice: nothing matched the device filter.
	FailureNoDevice

	// FailureUnsupported: the platform cannot do serial at all.
	FailureUnsupported
)

// ConnectionError is returned from Connect. Connection errors are never
// retried automatically; the operator retries after following the guidance.
type ConnectionError struct {
	Reason ConnectFailure
	Err    error
}

// Error implements error
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("reader connect failed: %v", e.Err)
}

// Unwrap supports errors.Is/As against the underlying cause
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Guidance returns an actionable operator-facing hint for the failure.
func (e *ConnectionError) Guidance() string {
	switch e.Reason {
	case FailureNoDevice:
		return "Reader not found. Check the USB cable, try another port, and " +
			"verify the USB-to-serial bridge driver is installed."
	case FailureUnsupported:
		return "This system cannot access serial devices. Install the serial " +
			"subsystem drivers or run the agent on a machine with USB serial support."
	default:
		return "The reader port could not be opened. Close any other program " +
			"using the reader, check port permissions, then reconnect."
	}
}

// Errors
var (
	ErrAlreadyConnected = errors.New("session already connected")
)

// classifyConnectError wraps a channel open failure into a ConnectionError.
func classifyConnectError(err error) *ConnectionError {
	switch {
	case errors.Is(err, channel.ErrNoDevice):
		return &ConnectionError{Reason: FailureNoDevice, Err: err}
	case errors.Is(err, channel.ErrNoSerialSupport):
		return &ConnectionError{Reason: FailureUnsupported, Err: err}
	default:
		return &ConnectionError{Reason: FailureOpen, Err: err}
	}
}
