package frame

import "fmt"

// Frame is one de-escaped protocol message: command byte, declared payload
// length, payload bytes and the trailing checksum as received. It is built
// per frame and consumed immediately by the decoder.
type Frame struct {
	Command  Command
	Length   byte // declared payload length
	Payload  []byte
	Checksum uint16 // as received; verification is the caller's choice
}

// New creates an outbound frame for the given command and payload.
func New(cmd Command, payload []byte) *Frame {
	return &Frame{
		Command: cmd,
		Length:  byte(len(payload)),
		Payload: payload,
	}
}

// Serialize converts the frame to wire format:
//
//	[STX] escaped(command, length, payload..., crcHi, crcLo) [ETX]
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLong
	}

	body := make([]byte, 0, 2+len(f.Payload)+ChecksumSize)
	body = append(body, byte(f.Command), byte(len(f.Payload)))
	body = append(body, f.Payload...)
	body = AppendChecksum(body)

	stuffed := Stuff(body)

	result := make([]byte, 0, len(stuffed)+2)
	result = append(result, STX)
	result = append(result, stuffed...)
	result = append(result, ETX)
	return result, nil
}

// Parse interprets an unstuffed frame body (the bytes strictly between the
// start and end markers, after escape removal).
func Parse(body []byte) (*Frame, error) {
	if len(body) < MinBodySize {
		return nil, ErrBodyTooShort
	}

	f := &Frame{
		Command: Command(body[0]),
		Length:  body[1],
	}

	rest := body[2:]
	if len(rest) >= ChecksumSize {
		f.Checksum = uint16(rest[len(rest)-2])<<8 | uint16(rest[len(rest)-1])
		f.Payload = rest[:len(rest)-ChecksumSize]
	} else {
		// Truncated tail: keep what arrived, the decoder enforces
		// per-command minimums.
		f.Payload = rest
	}

	// Trust the declared length when the body carries trailing filler.
	if int(f.Length) < len(f.Payload) {
		f.Payload = f.Payload[:f.Length]
	}

	return f, nil
}

// Verify recomputes the checksum over command+length+payload and compares it
// to the received one.
func (f *Frame) Verify() bool {
	body := make([]byte, 0, 2+len(f.Payload))
	body = append(body, byte(f.Command), f.Length)
	body = append(body, f.Payload...)
	return Checksum(body) == f.Checksum
}

// Stuff doubles every escape byte so control bytes survive inside payload data.
func Stuff(data []byte) []byte {
	result := make([]byte, 0, len(data))
	for _, b := range data {
		if b == DLE {
			result = append(result, DLE, DLE)
			continue
		}
		result = append(result, b)
	}
	return result
}

// Unstuff collapses doubled escape bytes back to single occurrences. A lone
// escape byte with a non-escape successor should not occur in a well-formed
// stream; it passes through unchanged rather than failing the parse.
func Unstuff(data []byte) []byte {
	result := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		result = append(result, data[i])
		if data[i] == DLE && i+1 < len(data) && data[i+1] == DLE {
			i++
		}
	}
	return result
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Cmd=%s(0x%02X), Len=%d, PayloadLen=%d, Checksum=0x%04X}",
		f.Command, byte(f.Command), f.Length, len(f.Payload), f.Checksum)
}
