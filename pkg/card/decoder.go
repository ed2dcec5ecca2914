package card

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"orienteer/punchcard-go/pkg/frame"
)

// Payload layouts per generation. The offsets are fixed by the reader
// firmware; changing reader hardware means a new validated entry here, not a
// guessed one.
const (
	// Series 5: a 4-byte station preamble precedes the 2-byte big-endian number.
	series5NumberOffset = 4
	series5MinPayload   = series5NumberOffset + 2

	// Series 6: 3-byte big-endian number at the start of the payload.
	series6MinPayload = 3

	// Series 8, 9 and p-card share one layout: a 3-byte preamble precedes the
	// 3 number bytes. Validated against a physical series 8 card: payload
	// 00 01 0F 72 71 65 E9 FF carries the number in 72 71 65.
	series8NumberOffset = 3
	series8MinPayload   = series8NumberOffset + 3
)

// Errors
var (
	// ErrUnknownCommand marks a frame whose command byte is not a card
	// report. Future reader firmware sends commands this code has never
	// seen; callers drop these without treating them as failures.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrShortPayload marks a card report whose payload is shorter than the
	// minimum its generation's layout needs.
	ErrShortPayload = errors.New("payload too short for card layout")
)

// Decode interprets a de-escaped frame as a card report. The command byte
// selects the generation-specific byte layout.
func Decode(f *frame.Frame) (*Read, error) {
	switch f.Command {
	case frame.CmdCardSeries5:
		return decodeSeries5(f.Payload)
	case frame.CmdCardSeries6:
		return decodeSeries6(f.Payload)
	case frame.CmdCardSeries8:
		return decodeHexPacked(f.Payload, Gen8)
	case frame.CmdCardSeries9:
		return decodeHexPacked(f.Payload, Gen9)
	case frame.CmdCardPCard:
		return decodeHexPacked(f.Payload, GenPCard)
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, byte(f.Command))
	}
}

func decodeSeries5(payload []byte) (*Read, error) {
	if len(payload) < series5MinPayload {
		return nil, fmt.Errorf("%w: series 5 needs %d bytes, got %d",
			ErrShortPayload, series5MinPayload, len(payload))
	}

	number := uint32(binary.BigEndian.Uint16(payload[series5NumberOffset:]))
	return &Read{Number: number, Generation: Gen5}, nil
}

func decodeSeries6(payload []byte) (*Read, error) {
	if len(payload) < series6MinPayload {
		return nil, fmt.Errorf("%w: series 6 needs %d bytes, got %d",
			ErrShortPayload, series6MinPayload, len(payload))
	}

	number := uint32(payload[0])<<16 | uint32(payload[1])<<8 | uint32(payload[2])
	return &Read{Number: number, Generation: Gen6}, nil
}

// decodeHexPacked handles series 8, 9 and p-cards. These cards pack the
// number as hex digit pairs: the three bytes after the preamble are rendered
// as a six-digit hex string and that string is parsed base-16. Reading over
// the wrong offsets produces a number that looks valid and is silently wrong,
// which is why the rendering step is spelled out instead of folded into
// arithmetic.
func decodeHexPacked(payload []byte, gen Generation) (*Read, error) {
	if len(payload) < series8MinPayload {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d",
			ErrShortPayload, gen, series8MinPayload, len(payload))
	}

	digits := fmt.Sprintf("%02x%02x%02x",
		payload[series8NumberOffset],
		payload[series8NumberOffset+1],
		payload[series8NumberOffset+2])

	number, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		// Unreachable with two-digit rendering, kept so a layout change
		// cannot turn into a silent zero.
		return nil, fmt.Errorf("card number digits %q: %w", digits, err)
	}

	return &Read{Number: uint32(number), Generation: gen}, nil
}
