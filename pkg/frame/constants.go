package frame

import "errors"

// Wire framing constants

// Delimiter and escape bytes
const (
	STX byte = 0x02 // Start of frame marker
	ETX byte = 0x03 // End of frame marker
	DLE byte = 0x10 // Escape byte, doubled when it appears as data
)

// Frame sizes
const (
	// MinBodySize is the minimum unstuffed body: command byte + length byte.
	// Anything shorter is line noise and is dropped by the assembler.
	MinBodySize = 2

	// ChecksumSize is the trailing checksum width in bytes.
	ChecksumSize = 2

	// MaxPayloadSize bounds a single frame's payload. The length field is one
	// byte, so the protocol cannot declare more than this.
	MaxPayloadSize = 255
)

// Command identifies the operation a frame carries.
type Command byte

const (
	// Inbound: unsolicited card reports, one per card generation family
	CmdCardSeries5 Command = 0xB1 // Series 5 card inserted
	CmdCardSeries6 Command = 0xE1 // Series 6 card inserted
	CmdCardSeries8 Command = 0xEF // Series 8 card inserted
	CmdCardSeries9 Command = 0xE8 // Series 9 card inserted
	CmdCardPCard   Command = 0xE2 // p-card inserted

	// Outbound: reader control
	CmdSetMasterMode Command = 0xF0 // Switch reader to master (proactive report) mode
	CmdBeep          Command = 0xF9 // Audible feedback, no parameters
)

// MasterModeParam is the single parameter byte sent with CmdSetMasterMode.
const MasterModeParam byte = 0x4D

// String returns string representation of Command
func (c Command) String() string {
	switch c {
	case CmdCardSeries5:
		return "CardSeries5"
	case CmdCardSeries6:
		return "CardSeries6"
	case CmdCardSeries8:
		return "CardSeries8"
	case CmdCardSeries9:
		return "CardSeries9"
	case CmdCardPCard:
		return "CardPCard"
	case CmdSetMasterMode:
		return "SetMasterMode"
	case CmdBeep:
		return "Beep"
	default:
		return "Unknown"
	}
}

// Errors
var (
	ErrBodyTooShort   = errors.New("frame body too short")
	ErrPayloadTooLong = errors.New("payload exceeds one-byte length field")
)
