package channel

import (
	"context"
	"errors"
)

// PhysicalChannel represents a pluggable transport to a card reader.
// Implementations exist for directly attached serial readers and for
// serial-over-network bridges; users can supply their own.
//
// Read returns the next chunk of raw bytes in whatever sizes the medium
// delivers them. Framing is not a transport concern: chunks may split frames
// at any byte boundary, including mid-escape-sequence, and the frame
// assembler upstream must cope.
type PhysicalChannel interface {
	// Read blocks until bytes arrive, the context is cancelled, or the
	// channel is closed. A closed channel returns ErrChannelClosed.
	Read(ctx context.Context) ([]byte, error)

	// Write writes raw bytes to the medium. Must be safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close closes the physical connection and unblocks pending reads.
	// Safe to call more than once.
	Close() error

	// Statistics returns transport-level counters.
	Statistics() TransportStats
}

// DeviceIdentifier is implemented by channels that can describe the physical
// device behind them (USB vendor/product, port name).
type DeviceIdentifier interface {
	DeviceInfo() DeviceInfo
}

// DeviceInfo describes the physical device behind a channel.
type DeviceInfo struct {
	Port      string // OS port name or network address
	VendorID  string // USB vendor ID, hex without prefix, empty if not USB
	ProductID string // USB product ID, hex without prefix, empty if not USB
	Serial    string // USB serial number if available
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent     uint64
	BytesReceived uint64
	WriteErrors   uint64
	ReadErrors    uint64
	Connects      uint64
	Disconnects   uint64
}

// Errors
var (
	// ErrChannelClosed is returned from Read/Write after Close. It marks a
	// deliberate shutdown, as opposed to an I/O failure.
	ErrChannelClosed = errors.New("channel closed")

	// ErrNoDevice means no attached device matched the configured filter.
	ErrNoDevice = errors.New("no matching device found")

	// ErrNoSerialSupport means the platform cannot enumerate serial ports at
	// all (missing subsystem or drivers).
	ErrNoSerialSupport = errors.New("platform has no serial support")
)
