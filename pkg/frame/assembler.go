package frame

import (
	"bytes"

	"orienteer/punchcard-go/pkg/logger"
)

// Assembler converts an arbitrarily chunked byte stream into complete frames.
// It retains partial data between calls and resynchronizes on the start
// marker: bytes preceding an identified start marker are dropped, bytes with
// no start marker in sight are kept for the next chunk.
//
// Not safe for concurrent use; one assembler belongs to one read loop.
type Assembler struct {
	buf []byte
	log logger.Logger

	// OnDrop is invoked once per discarded sub-minimum frame. Optional.
	OnDrop func()
}

// NewAssembler creates an assembler.
func NewAssembler(log logger.Logger) *Assembler {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Assembler{log: log}
}

// Push appends a chunk of received bytes and returns every complete frame it
// closes, in arrival order. A single chunk may complete zero, one or many
// frames. Malformed frames (shorter than command+length after unstuffing) are
// logged and skipped; they never halt processing of later frames.
func (a *Assembler) Push(chunk []byte) []*Frame {
	a.buf = append(a.buf, chunk...)

	var frames []*Frame
	for {
		start := bytes.IndexByte(a.buf, STX)
		if start < 0 {
			// No frame possible yet; retain everything.
			return frames
		}

		end := bytes.IndexByte(a.buf[start+1:], ETX)
		if end < 0 {
			// Frame incomplete: keep from the start marker onward. Leading
			// junk is dropped now that a start marker anchors the stream.
			a.buf = a.buf[start:]
			return frames
		}
		end += start + 1

		body := Unstuff(a.buf[start+1 : end])
		a.buf = a.buf[end+1:]

		f, err := Parse(body)
		if err != nil {
			a.log.Warn("Assembler: dropping malformed frame (%d bytes): %v", len(body), err)
			if a.OnDrop != nil {
				a.OnDrop()
			}
			continue
		}

		frames = append(frames, f)
	}
}

// Pending returns the number of buffered bytes not yet forming a frame.
func (a *Assembler) Pending() int {
	return len(a.buf)
}

// Reset discards buffered data. Used when a connection is re-established so a
// torn frame from the old link cannot prefix the new stream.
func (a *Assembler) Reset() {
	a.buf = nil
}
