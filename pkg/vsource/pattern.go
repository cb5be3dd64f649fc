package vsource

// PatternByte returns the byte of the generated pattern at absolute position pos.
// The pattern is a little endian 32 bit counter that holds, for every aligned
// group of 4 bytes, the offset of the group itself.
func PatternByte(pos uint64) byte {
	base := uint32(pos - pos%4)
	return byte(base >> ((pos % 4) * 8))
}

// FillPattern fills buf with the generated pattern, starting at absolute position offset.
func FillPattern(buf []byte, offset uint64) {
	pattern := uint32(offset - offset%4)

	for i := range buf {
		pos := offset + uint64(i)
		b := pos % 4
		if b == 0 {
			pattern = uint32(pos)
		}
		buf[i] = byte(pattern >> (b * 8))
	}
}

// Pattern returns length bytes of the generated pattern, starting at absolute position offset.
func Pattern(offset uint64, length int) []byte {
	buf := make([]byte, length)
	FillPattern(buf, offset)
	return buf
}
