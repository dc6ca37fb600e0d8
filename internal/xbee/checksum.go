package xbee

// Frame layout constants shared by the checksum, the assembler and the decoder.
const (
	// StartDelimiter opens every API frame.
	StartDelimiter byte = 0x7E

	// headerSize is the start delimiter plus the two length bytes.
	headerSize = 3

	// checksumSize is the single trailer byte.
	checksumSize = 1

	// minFrameSize is a frame with an empty frame-data section.
	minFrameSize = headerSize + checksumSize
)

// Checksum returns the trailer byte for the given frame data (type byte
// through the last payload byte).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

// ValidChecksum reports whether a complete raw frame carries a correct
// trailer checksum.
//
// The sum covers every byte after the 3-byte header and before the trailer.
// Anything that is not a well-formed frame (too short, or a length field
// that disagrees with the slice length) fails closed.
func ValidChecksum(frame []byte) bool {
	if len(frame) < minFrameSize {
		return false
	}
	if frameLength(frame) != len(frame) {
		return false
	}

	last := len(frame) - 1
	return frame[last] == Checksum(frame[headerSize:last])
}

// Encode wraps frame data in the start delimiter, length and checksum.
func Encode(data []byte) []byte {
	out := make([]byte, 0, len(data)+minFrameSize)
	out = append(out, StartDelimiter, byte(len(data)>>8), byte(len(data)))
	out = append(out, data...)
	return append(out, Checksum(data))
}

// frameLength returns the total on-wire length announced by a header.
// The caller guarantees at least headerSize bytes.
func frameLength(b []byte) int {
	return headerSize + int(word(b[1], b[2])) + checksumSize
}

// word combines two wire bytes, most-significant first.
func word(msb, lsb byte) uint16 {
	return uint16(msb)<<8 | uint16(lsb)
}
