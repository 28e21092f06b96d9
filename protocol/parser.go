package protocol

import (
	"bytes"
	"encoding/binary"
)

// AddReceivedBytes appends raw transport bytes and advances frame
// detection. Chunks may split or span frame boundaries arbitrarily. A chunk
// that does not fit fails with ErrNoEnoughSpace and nothing is appended;
// the caller decides whether to reset and resynchronize.
func (m *MessageBuffer) AddReceivedBytes(p []byte) error {
	if m.GetLockStatus() {
		return ErrBufferLocked
	}
	if len(p) > m.free() {
		return ErrNoEnoughSpace
	}
	if m.started {
		// incoming bytes end any half-built outgoing message
		m.clearTransmit()
	}

	m.pos += copy(m.buf[m.pos:], p)
	m.validated = false
	m.advance()
	return nil
}

// advance locates the header, reads the length field and flags completion
// as far as the bytes received so far allow.
func (m *MessageBuffer) advance() {
	for {
		if !m.headerPresent {
			rel := FindHeaderPosition(m.buf[m.scanFrom:m.pos])
			if rel == HeaderNotFound {
				// a partial magic may still be forming at the tail
				if tail := m.pos - HeaderLen + 1; tail > m.scanFrom {
					m.scanFrom = tail
				}
				return
			}
			m.headerPresent = true
			m.headerPos = m.scanFrom + rel
			copy(m.header[:], m.buf[m.headerPos:])
		}

		if m.expectedLen == 0 {
			n, err := MessageLength(m.buf[:m.pos], m.headerPos)
			if err != nil {
				return
			}
			if n < OverheadLen || m.headerPos+n > len(m.buf) {
				// false sync: the magic appeared inside noise or payload
				m.headerPresent = false
				m.header = [HeaderLen]byte{}
				m.scanFrom = m.headerPos + 1
				continue
			}
			m.expectedLen = n
		}

		if m.pos >= m.headerPos+m.expectedLen {
			m.packetComplete = true
		}
		return
	}
}

// DataAvailable reports whether a complete frame with a valid checksum is
// held. A corrupted frame never reports as available.
func (m *MessageBuffer) DataAvailable() bool {
	return m.packetComplete && m.ValidateData() == nil
}

// ValidateData checks the held frame and, on the first success, indexes its
// data items.
func (m *MessageBuffer) ValidateData() error {
	if m.validated {
		return nil
	}
	if !m.packetComplete {
		return ErrPackageNotComplete
	}

	frame := m.buf[m.headerPos : m.headerPos+m.expectedLen]
	body := frame[:len(frame)-CRCLen]
	if CRC16(body) != binary.BigEndian.Uint16(frame[len(body):]) {
		return ErrPackageCorrupted
	}
	if !bytes.Equal(frame[:HeaderLen], magicHeader[:]) || m.header != magicHeader {
		return ErrPackageNotValid
	}
	if err := m.indexItems(body); err != nil {
		return err
	}

	m.validated = true
	return nil
}

// indexItems walks the data section once and records where each item sits
func (m *MessageBuffer) indexItems(body []byte) error {
	m.items = m.items[:0]
	count := int(binary.BigEndian.Uint16(body[DataCountPos:]))
	off := DataStartPos

	for i := 0; i < count; i++ {
		if off+ItemHeaderLen > len(body) || len(m.items) == cap(m.items) {
			m.items = m.items[:0]
			return ErrPackageNotValid
		}
		n := int(binary.BigEndian.Uint16(body[off+DataLengthPos:]))
		if off+ItemHeaderLen+n > len(body) {
			m.items = m.items[:0]
			return ErrPackageNotValid
		}
		m.items = append(m.items, DataInfo{
			Index: m.headerPos + off + DataPayloadPos,
			Type:  body[off+DataTypePos],
			Len:   n,
		})
		off += ItemHeaderLen + n
	}

	if off != len(body) {
		m.items = m.items[:0]
		return ErrPackageNotValid
	}
	return nil
}

// DataCount returns the number of data items in the validated frame
func (m *MessageBuffer) DataCount() (int, error) {
	if err := m.ValidateData(); err != nil {
		return 0, err
	}
	return len(m.items), nil
}

// DataInfo returns the location, type and length of item n (0-based)
func (m *MessageBuffer) DataInfo(n int) (DataInfo, error) {
	if err := m.ValidateData(); err != nil {
		return DataInfo{}, err
	}
	if n < 0 || n >= len(m.items) {
		return DataInfo{}, ErrInvalidParameter
	}
	return m.items[n], nil
}

// GetData copies the payload described by info into dst
func (m *MessageBuffer) GetData(info DataInfo, dst []byte) (int, error) {
	if info.Index < 0 || info.Len < 0 || info.Index+info.Len > m.pos {
		return 0, ErrInvalidParameter
	}
	if len(dst) < info.Len {
		return 0, ErrNoEnoughSpace
	}
	return copy(dst, m.buf[info.Index:info.Index+info.Len]), nil
}

// SourceID returns the sender of the validated frame
func (m *MessageBuffer) SourceID() (byte, error) {
	return m.field(SourceIDPos)
}

// DestinationID returns the recipient of the validated frame
func (m *MessageBuffer) DestinationID() (byte, error) {
	return m.field(DestinationIDPos)
}

// AckStatus returns the ACK/NACK code of the validated frame
func (m *MessageBuffer) AckStatus() (AckStatus, error) {
	b, err := m.field(MessageTypePos)
	return unpackAckStatus(b), err
}

// AckRequested reports whether the sender asked for an acknowledgment
func (m *MessageBuffer) AckRequested() (bool, error) {
	b, err := m.field(MessageTypePos)
	return unpackAckRequest(b), err
}

// Kind returns the message kind of the validated frame
func (m *MessageBuffer) Kind() (Kind, error) {
	b, err := m.field(MessageTypePos)
	return unpackKind(b), err
}

func (m *MessageBuffer) field(pos int) (byte, error) {
	if err := m.ValidateData(); err != nil {
		return 0, err
	}
	return m.buf[m.headerPos+pos], nil
}
