package frame

import "github.com/sigurn/crc16"

// The reader checksums command+length+payload with CRC-16 polynomial 0x8005,
// MSB-first, zero init, no final xor. That parameter set is registered as
// CRC-16/BUYPASS, so the table comes from the crc16 library instead of a
// hand-built one.
var checksumTable = crc16.MakeTable(crc16.CRC16_BUYPASS)

// Checksum calculates the wire checksum for the given bytes.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, checksumTable)
}

// AppendChecksum appends the big-endian checksum to data and returns a new slice.
func AppendChecksum(data []byte) []byte {
	sum := Checksum(data)
	result := make([]byte, len(data)+ChecksumSize)
	copy(result, data)
	result[len(data)] = byte(sum >> 8)
	result[len(data)+1] = byte(sum)
	return result
}
