package frame

import (
	"bytes"
	"testing"
)

// TestChecksum_CheckValue pins the parameter set: CRC-16/BUYPASS has check
// value 0xFEE8 over the standard "123456789" input.
func TestChecksum_CheckValue(t *testing.T) {
	if got := Checksum([]byte("123456789")); got != 0xFEE8 {
		t.Errorf("Checksum = 0x%04X, want 0xFEE8", got)
	}
}

// TestChecksum_KnownFrames pins checksums of real command bodies so a table
// or polynomial change cannot slip through.
func TestChecksum_KnownFrames(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want uint16
	}{
		{"beep", []byte{0xF9, 0x00}, 0x960F},
		{"set master mode", []byte{0xF0, 0x01, 0x4D}, 0x8B6D},
		{"series 8 report", []byte{0xEF, 0x08, 0x00, 0x01, 0x0F, 0x72, 0x71, 0x65, 0xE9, 0xFF}, 0x8629},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.body); got != tt.want {
				t.Errorf("Checksum = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

// TestAppendChecksum verifies big-endian placement.
func TestAppendChecksum(t *testing.T) {
	got := AppendChecksum([]byte{0xF9, 0x00})
	want := []byte{0xF9, 0x00, 0x96, 0x0F}
	if !bytes.Equal(got, want) {
		t.Errorf("AppendChecksum = % X, want % X", got, want)
	}
}
