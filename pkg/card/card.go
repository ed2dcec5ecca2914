package card

import "fmt"

// Generation identifies the hardware revision family of a punch card. The
// family determines the payload byte layout of its card report.
type Generation uint8

const (
	Gen5     Generation = 5
	Gen6     Generation = 6
	Gen8     Generation = 8
	Gen9     Generation = 9
	GenPCard Generation = 10
)

// String returns string representation of Generation
func (g Generation) String() string {
	switch g {
	case Gen5:
		return "Series5"
	case Gen6:
		return "Series6"
	case Gen8:
		return "Series8"
	case Gen9:
		return "Series9"
	case GenPCard:
		return "PCard"
	default:
		return fmt.Sprintf("Generation(%d)", uint8(g))
	}
}

// BatteryStatus reports the card battery health when the firmware includes it.
type BatteryStatus uint8

const (
	BatteryUnknown BatteryStatus = iota // not reported by this payload
	BatteryOK
	BatteryLow
)

// String returns string representation of BatteryStatus
func (b BatteryStatus) String() string {
	switch b {
	case BatteryOK:
		return "OK"
	case BatteryLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// Read is one decoded card report. Number is the canonical decimal card
// number; plausibility (range checks against the entry list) is a caller
// concern, decoding never rejects a candidate. Battery and ErrorCode stay at
// their zero values unless the firmware reports them.
type Read struct {
	Number     uint32
	Generation Generation
	Battery    BatteryStatus
	ErrorCode  byte
}

// String returns a string representation of the read
func (r *Read) String() string {
	return fmt.Sprintf("Read{Number=%d, Generation=%s}", r.Number, r.Generation)
}
