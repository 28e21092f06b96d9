package protocol

import (
	"bytes"
	"encoding/binary"
)

// HeaderNotFound is returned by FindHeaderPosition when buf holds no magic
// sequence.
const HeaderNotFound = -1

// FindHeaderPosition returns the offset of the first magic header in buf,
// or HeaderNotFound. It does not touch any MessageBuffer state, so raw
// transport buffers can be scanned before they are fed in.
func FindHeaderPosition(buf []byte) int {
	return bytes.Index(buf, magicHeader[:])
}

// MessageLength reads the frame length field of the frame whose magic
// header starts at headerPos. It fails with ErrPackageNotComplete when buf
// does not yet reach the end of the length field.
func MessageLength(buf []byte, headerPos int) (int, error) {
	if headerPos < 0 {
		return 0, ErrInvalidParameter
	}
	end := headerPos + MessageLengthPos + MessageLengthLen
	if end > len(buf) {
		return 0, ErrPackageNotComplete
	}
	return int(binary.BigEndian.Uint16(buf[headerPos+MessageLengthPos:])), nil
}
